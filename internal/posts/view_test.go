package posts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/doodlemap/internal/feed"
)

func TestProjectWithoutViewerOmitsViewerFields(t *testing.T) {
	post := newPost("post-1", "owner", Location{Lon: -71.8081, Lat: 42.2743}, []byte("hi"), time.Unix(1700000000, 0).UTC())

	view := Project(post, "", ViewExtras{})

	encoded, err := json.Marshal(view)
	if err != nil {
		t.Fatalf("failed to encode view: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(encoded, &payload); err != nil {
		t.Fatalf("failed to decode view: %v", err)
	}
	for _, key := range []string{"owned", "vote_status", "distance", "distance_unit", "vote", "user_id", "location", "__v"} {
		if _, ok := payload[key]; ok {
			t.Fatalf("unexpected key %q in %s", key, encoded)
		}
	}
	for _, key := range []string{"id", "lat", "lon", "content", "score", "created_at", "updated_at"} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("missing key %q in %s", key, encoded)
		}
	}
	if payload["lat"] != 42.2743 || payload["lon"] != -71.8081 {
		t.Fatalf("coordinates swapped: lat=%v lon=%v", payload["lat"], payload["lon"])
	}
	if payload["content"] != "aGk=" {
		t.Fatalf("expected base64 content, got %v", payload["content"])
	}
}

func TestProjectWithViewerAddsOwnershipAndVoteStatus(t *testing.T) {
	post := newPost("post-1", "owner", Location{Lon: 1, Lat: 2}, []byte{0}, time.Unix(1700000000, 0).UTC())
	post.Downvote("viewer")

	ownerView := Project(post, "owner", ViewExtras{})
	if ownerView.Owned == nil || !*ownerView.Owned {
		t.Fatalf("expected owner to see owned=true")
	}
	if ownerView.VoteStatus == nil || *ownerView.VoteStatus != VoteStatusNone {
		t.Fatalf("expected owner vote status none")
	}

	viewerView := Project(post, "viewer", ViewExtras{})
	if viewerView.Owned == nil || *viewerView.Owned {
		t.Fatalf("expected viewer to see owned=false")
	}
	if viewerView.VoteStatus == nil || *viewerView.VoteStatus != VoteStatusDown {
		t.Fatalf("expected viewer vote status down")
	}
	if viewerView.Score != -1 {
		t.Fatalf("expected score -1, got %d", viewerView.Score)
	}
}

func TestProjectMergesDistanceExtras(t *testing.T) {
	post := newPost("post-1", "owner", Location{Lon: 1, Lat: 2}, []byte{0}, time.Unix(1700000000, 0).UTC())

	view := Project(post, "", DistanceExtras(0, feed.UnitMiles))

	encoded, err := json.Marshal(view)
	if err != nil {
		t.Fatalf("failed to encode view: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(encoded, &payload); err != nil {
		t.Fatalf("failed to decode view: %v", err)
	}
	if payload["distance"] != 0.0 {
		t.Fatalf("expected zero distance to be present, got %s", encoded)
	}
	if payload["distance_unit"] != "mi" {
		t.Fatalf("expected distance unit mi, got %v", payload["distance_unit"])
	}
}

func TestProjectVote(t *testing.T) {
	post := newPost("post-1", "owner", Location{}, []byte{0}, time.Unix(1700000000, 0).UTC())
	post.Upvote("voter")

	encoded, err := json.Marshal(ProjectVote(post, "voter"))
	if err != nil {
		t.Fatalf("failed to encode vote view: %v", err)
	}
	if string(encoded) != `{"vote_status":1,"score":1}` {
		t.Fatalf("unexpected vote view: %s", encoded)
	}
}
