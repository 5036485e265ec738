package quill

import (
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
)

// a directory where the test drives every push by hand
type manualDirectory struct {
	mutex         sync.Mutex
	subscriptions []*manualSubscription
}

func newManualDirectory() *manualDirectory {
	return &manualDirectory{}
}

func (self *manualDirectory) Subscribe(path string, callback SubscriptionFunc) (Subscription, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	subscription := &manualSubscription{
		path:     path,
		callback: callback,
	}
	self.subscriptions = append(self.subscriptions, subscription)
	return subscription, nil
}

func (self *manualDirectory) CreateDocument(parentPath string, doc *PostDocument) (string, error) {
	return strings.ToLower(NewId().String()), nil
}

func (self *manualDirectory) UpdateDocument(path string, patch map[string]any) error {
	return nil
}

func (self *manualDirectory) DeleteDocument(path string) error {
	return nil
}

func (self *manualDirectory) subscription(i int) *manualSubscription {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.subscriptions[i]
}

func (self *manualDirectory) subscriptionCount() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.subscriptions)
}

type manualSubscription struct {
	path      string
	callback  SubscriptionFunc
	cancelled bool
}

func (self *manualSubscription) Cancel() {
	self.cancelled = true
}

func (self *manualSubscription) push(documents map[string]*PostDocument) {
	self.callback(&Snapshot{
		Exists:    0 < len(documents),
		Documents: documents,
	}, nil)
}

func (self *manualSubscription) fail(message string) {
	self.callback(nil, &SubscriptionError{Path: self.path, Message: message})
}

func doc(title string, createdAt int64) *PostDocument {
	return &PostDocument{
		Title:     title,
		Content:   strings.Repeat(title+" ", 20),
		Author:    "User One",
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestSyncEmptySubtree(t *testing.T) {
	directory := newManualDirectory()
	session := NewSessionStore()
	collection := NewPostCollection()
	collectionSync := NewCollectionSync(session, collection, directory)
	defer collectionSync.Close()

	session.SetAccount(&Account{Id: "u1"})
	assert.Equal(t, 1, directory.subscriptionCount())
	assert.Equal(t, PostsPath("u1"), directory.subscription(0).path)
	assert.Equal(t, true, collection.Loading())

	directory.subscription(0).push(nil)
	assert.Equal(t, 0, len(collection.Posts()))
	assert.Equal(t, false, collection.Loading())
}

func TestSyncSortsNewestFirst(t *testing.T) {
	directory := newManualDirectory()
	session := NewSessionStore()
	collection := NewPostCollection()
	collectionSync := NewCollectionSync(session, collection, directory)
	defer collectionSync.Close()

	session.SetAccount(&Account{Id: "u1"})
	directory.subscription(0).push(map[string]*PostDocument{
		"p1": doc("Oldest", 100),
		"p2": doc("Newest", 300),
		"p3": doc("Middle", 200),
	})

	posts := collection.Posts()
	assert.Equal(t, 3, len(posts))
	assert.Equal(t, "Newest", posts[0].Title)
	assert.Equal(t, "Middle", posts[1].Title)
	assert.Equal(t, "Oldest", posts[2].Title)
	for i := 1; i < len(posts); i += 1 {
		assert.Equal(t, true, posts[i].CreatedAt <= posts[i-1].CreatedAt)
	}
	// ownerId comes from the subscribed path
	assert.Equal(t, "u1", posts[0].OwnerId)
}

func TestSyncEqualCreatedAtTieBreak(t *testing.T) {
	directory := newManualDirectory()
	session := NewSessionStore()
	collection := NewPostCollection()
	collectionSync := NewCollectionSync(session, collection, directory)
	defer collectionSync.Close()

	session.SetAccount(&Account{Id: "u1"})
	directory.subscription(0).push(map[string]*PostDocument{
		"pa": doc("A", 100),
		"pc": doc("C", 100),
		"pb": doc("B", 100),
	})

	// deterministic: descending id for equal createdAt
	posts := collection.Posts()
	assert.Equal(t, "pc", posts[0].Id)
	assert.Equal(t, "pb", posts[1].Id)
	assert.Equal(t, "pa", posts[2].Id)
}

func TestSyncPushSupersedesOptimisticState(t *testing.T) {
	directory := newManualDirectory()
	session := NewSessionStore()
	collection := NewPostCollection()
	collectionSync := NewCollectionSync(session, collection, directory)
	defer collectionSync.Close()

	session.SetAccount(&Account{Id: "u1"})
	directory.subscription(0).push(nil)

	// an optimistic local insert
	collection.CreateSucceeded(testPost("local", 500))
	assert.Equal(t, 1, len(collection.Posts()))

	// a late authoritative push always wins
	directory.subscription(0).push(map[string]*PostDocument{
		"p1": doc("Remote", 100),
	})
	posts := collection.Posts()
	assert.Equal(t, 1, len(posts))
	assert.Equal(t, "p1", posts[0].Id)
}

func TestSyncSubscriptionError(t *testing.T) {
	directory := newManualDirectory()
	session := NewSessionStore()
	collection := NewPostCollection()
	collectionSync := NewCollectionSync(session, collection, directory)
	defer collectionSync.Close()

	session.SetAccount(&Account{Id: "u1"})
	directory.subscription(0).push(map[string]*PostDocument{
		"p1": doc("One", 100),
	})
	assert.Equal(t, 1, len(collection.Posts()))

	// never leave the previous list displayed as loading
	directory.subscription(0).fail("permission denied")
	assert.Equal(t, 0, len(collection.Posts()))
	assert.Equal(t, false, collection.Loading())
	assert.NotEqual(t, "", collection.Err())
}

func TestSyncAccountSwitchTearsDown(t *testing.T) {
	directory := newManualDirectory()
	session := NewSessionStore()
	collection := NewPostCollection()
	collectionSync := NewCollectionSync(session, collection, directory)
	defer collectionSync.Close()

	session.SetAccount(&Account{Id: "u1"})
	u1 := directory.subscription(0)
	u1.push(map[string]*PostDocument{
		"p1": doc("From u1", 100),
	})
	assert.Equal(t, 1, len(collection.Posts()))

	session.SetAccount(&Account{Id: "u2"})
	assert.Equal(t, true, u1.cancelled)
	assert.Equal(t, 2, directory.subscriptionCount())
	u2 := directory.subscription(1)
	assert.Equal(t, PostsPath("u2"), u2.path)
	assert.Equal(t, true, collection.Loading())

	// a late-arriving notification for posts/u1 must not populate the
	// collection now scoped to u2
	u1.push(map[string]*PostDocument{
		"p9": doc("Stale from u1", 900),
	})
	assert.Equal(t, true, collection.Loading())

	u2.push(map[string]*PostDocument{
		"p2": doc("From u2", 200),
	})
	posts := collection.Posts()
	assert.Equal(t, 1, len(posts))
	assert.Equal(t, "p2", posts[0].Id)
	assert.Equal(t, "u2", posts[0].OwnerId)
}

func TestSyncSignOutEmptiesCollection(t *testing.T) {
	directory := newManualDirectory()
	session := NewSessionStore()
	collection := NewPostCollection()
	collectionSync := NewCollectionSync(session, collection, directory)
	defer collectionSync.Close()

	session.SetAccount(&Account{Id: "u1"})
	u1 := directory.subscription(0)
	u1.push(map[string]*PostDocument{
		"p1": doc("One", 100),
	})
	assert.Equal(t, 1, len(collection.Posts()))

	session.SignOut()
	assert.Equal(t, true, u1.cancelled)
	assert.Equal(t, 0, len(collection.Posts()))

	// late push from the old subtree is dropped
	u1.push(map[string]*PostDocument{
		"p1": doc("One", 100),
	})
	assert.Equal(t, 0, len(collection.Posts()))
}

func TestSyncSameAccountProfileRefresh(t *testing.T) {
	directory := newManualDirectory()
	session := NewSessionStore()
	collection := NewPostCollection()
	collectionSync := NewCollectionSync(session, collection, directory)
	defer collectionSync.Close()

	session.SetAccount(&Account{Id: "u1", DisplayName: "Old Name"})
	assert.Equal(t, 1, directory.subscriptionCount())

	// same owner, refreshed profile. the live subscription is kept.
	session.SetAccount(&Account{Id: "u1", DisplayName: "New Name"})
	assert.Equal(t, 1, directory.subscriptionCount())
	assert.Equal(t, false, directory.subscription(0).cancelled)
}

func TestSyncClose(t *testing.T) {
	directory := newManualDirectory()
	session := NewSessionStore()
	collection := NewPostCollection()
	collectionSync := NewCollectionSync(session, collection, directory)

	session.SetAccount(&Account{Id: "u1"})
	u1 := directory.subscription(0)

	collectionSync.Close()
	assert.Equal(t, true, u1.cancelled)

	// no new subscription after close
	session.SetAccount(&Account{Id: "u2"})
	assert.Equal(t, 1, directory.subscriptionCount())
}
