package quill

import (
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestMemoryDirectorySubscribe(t *testing.T) {
	directory := NewMemoryDirectory()

	snapshots := []*Snapshot{}
	subscription, err := directory.Subscribe(PostsPath("u1"), func(snapshot *Snapshot, err error) {
		assert.Equal(t, err, nil)
		snapshots = append(snapshots, snapshot)
	})
	assert.Equal(t, err, nil)
	defer subscription.Cancel()

	// initial snapshot of the empty subtree
	assert.Equal(t, 1, len(snapshots))
	assert.Equal(t, false, snapshots[0].Exists)

	documentId, err := directory.CreateDocument(PostsPath("u1"), doc("One", 100))
	assert.Equal(t, err, nil)
	assert.NotEqual(t, "", documentId)

	// every mutation delivers the full subtree, not a diff
	assert.Equal(t, 2, len(snapshots))
	assert.Equal(t, true, snapshots[1].Exists)
	assert.Equal(t, 1, len(snapshots[1].Documents))
	assert.Equal(t, "One", snapshots[1].Documents[documentId].Title)
}

func TestMemoryDirectoryGeneratedIdsAreTimeOrdered(t *testing.T) {
	directory := NewMemoryDirectory()

	previousId := ""
	for i := 0; i < 20; i += 1 {
		documentId, err := directory.CreateDocument(PostsPath("u1"), doc("One", 100))
		assert.Equal(t, err, nil)
		if previousId != "" {
			assert.Equal(t, true, previousId <= documentId)
		}
		previousId = documentId
	}
}

func TestMemoryDirectoryUpdate(t *testing.T) {
	directory := NewMemoryDirectory()
	documentId, err := directory.CreateDocument(PostsPath("u1"), doc("One", 100))
	assert.Equal(t, err, nil)

	err = directory.UpdateDocument(DocumentPath("u1", documentId), map[string]any{
		"title":     "Two",
		"content":   strings.Repeat("y", 60),
		"updatedAt": int64(200),
	})
	assert.Equal(t, err, nil)

	var snapshot *Snapshot
	subscription, err := directory.Subscribe(PostsPath("u1"), func(s *Snapshot, err error) {
		snapshot = s
	})
	assert.Equal(t, err, nil)
	defer subscription.Cancel()

	updated := snapshot.Documents[documentId]
	assert.Equal(t, "Two", updated.Title)
	assert.Equal(t, int64(200), updated.UpdatedAt)
	// partial merge leaves the rest alone
	assert.Equal(t, int64(100), updated.CreatedAt)
	assert.Equal(t, "User One", updated.Author)
}

func TestMemoryDirectoryUpdateMissing(t *testing.T) {
	directory := NewMemoryDirectory()
	err := directory.UpdateDocument(DocumentPath("u1", "missing"), map[string]any{
		"title": "x",
	})
	assert.NotEqual(t, err, nil)
	_, isWriteErr := err.(*WriteError)
	assert.Equal(t, true, isWriteErr)
}

func TestMemoryDirectoryUpdateMalformedPatch(t *testing.T) {
	directory := NewMemoryDirectory()
	documentId, err := directory.CreateDocument(PostsPath("u1"), doc("One", 100))
	assert.Equal(t, err, nil)

	// a non-string title rejects the whole patch, including valid fields
	err = directory.UpdateDocument(DocumentPath("u1", documentId), map[string]any{
		"title":     42,
		"updatedAt": int64(200),
	})
	assert.NotEqual(t, err, nil)
	_, isWriteErr := err.(*WriteError)
	assert.Equal(t, true, isWriteErr)

	err = directory.UpdateDocument(DocumentPath("u1", documentId), map[string]any{
		"updatedAt": "not a number",
	})
	assert.NotEqual(t, err, nil)

	var snapshot *Snapshot
	subscription, err := directory.Subscribe(PostsPath("u1"), func(s *Snapshot, err error) {
		snapshot = s
	})
	assert.Equal(t, err, nil)
	defer subscription.Cancel()

	untouched := snapshot.Documents[documentId]
	assert.Equal(t, "One", untouched.Title)
	assert.Equal(t, int64(100), untouched.UpdatedAt)
}

func TestMemoryDirectoryDelete(t *testing.T) {
	directory := NewMemoryDirectory()
	documentId, err := directory.CreateDocument(PostsPath("u1"), doc("One", 100))
	assert.Equal(t, err, nil)

	err = directory.DeleteDocument(DocumentPath("u1", documentId))
	assert.Equal(t, err, nil)

	// idempotent at the backend
	err = directory.DeleteDocument(DocumentPath("u1", documentId))
	assert.Equal(t, err, nil)

	var snapshot *Snapshot
	subscription, err := directory.Subscribe(PostsPath("u1"), func(s *Snapshot, err error) {
		snapshot = s
	})
	assert.Equal(t, err, nil)
	defer subscription.Cancel()
	assert.Equal(t, false, snapshot.Exists)
}

func TestMemoryDirectoryCancelStopsDelivery(t *testing.T) {
	directory := NewMemoryDirectory()

	deliveries := 0
	subscription, err := directory.Subscribe(PostsPath("u1"), func(snapshot *Snapshot, err error) {
		deliveries += 1
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, 1, deliveries)

	subscription.Cancel()
	// after Cancel returns no further callback runs
	_, err = directory.CreateDocument(PostsPath("u1"), doc("One", 100))
	assert.Equal(t, err, nil)
	assert.Equal(t, 1, deliveries)
}

func TestMemoryDirectorySubtreeIsolation(t *testing.T) {
	directory := NewMemoryDirectory()

	u2Deliveries := 0
	subscription, err := directory.Subscribe(PostsPath("u2"), func(snapshot *Snapshot, err error) {
		u2Deliveries += 1
	})
	assert.Equal(t, err, nil)
	defer subscription.Cancel()

	_, err = directory.CreateDocument(PostsPath("u1"), doc("One", 100))
	assert.Equal(t, err, nil)

	// no cross-subtree notifications
	assert.Equal(t, 1, u2Deliveries)
}

func TestMemoryDirectoryFailSubscriptions(t *testing.T) {
	directory := NewMemoryDirectory()

	var failure error
	subscription, err := directory.Subscribe(PostsPath("u1"), func(snapshot *Snapshot, err error) {
		if err != nil {
			failure = err
		}
	})
	assert.Equal(t, err, nil)
	defer subscription.Cancel()

	directory.FailSubscriptions(PostsPath("u1"), "connection lost")
	assert.NotEqual(t, failure, nil)
	_, isSubscriptionErr := failure.(*SubscriptionError)
	assert.Equal(t, true, isSubscriptionErr)
}

func TestSplitDocumentPath(t *testing.T) {
	parentPath, documentId, err := splitDocumentPath("posts/u1/p1")
	assert.Equal(t, err, nil)
	assert.Equal(t, "posts/u1", parentPath)
	assert.Equal(t, "p1", documentId)

	_, _, err = splitDocumentPath("posts")
	assert.NotEqual(t, err, nil)

	_, _, err = splitDocumentPath("posts/u1/")
	assert.NotEqual(t, err, nil)
}
