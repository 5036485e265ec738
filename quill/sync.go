package quill

import (
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

// maintains exactly one live directory subscription for the signed-in
// account and mirrors every push into the post collection.
//
// account switches (including sign-out) cancel the old subscription before
// the new one begins. each subscription carries a generation number; pushes
// from a cancelled generation are dropped so that a late notification for
// account A can never populate the collection scoped to account B.
type CollectionSync struct {
	directory  Directory
	collection *PostCollection

	stateMutex         sync.Mutex
	accountId          string
	generation         int
	subscription       Subscription
	closed             bool
	unsubscribeSession func()

	log LogFunction
}

func NewCollectionSync(session *SessionStore, collection *PostCollection, directory Directory) *CollectionSync {
	collectionSync := &CollectionSync{
		directory:  directory,
		collection: collection,
		log:        LogFn(LogLevelInfo, "sync"),
	}
	collectionSync.unsubscribeSession = session.AddChangeListener(collectionSync.setAccount)
	collectionSync.setAccount(session.Account())
	return collectionSync
}

func (self *CollectionSync) setAccount(account *Account) {
	self.stateMutex.Lock()

	if self.closed {
		self.stateMutex.Unlock()
		return
	}

	accountId := ""
	if account != nil {
		accountId = account.Id
	}
	if accountId == self.accountId {
		// profile refresh, same owner. keep the live subscription.
		self.stateMutex.Unlock()
		return
	}

	oldSubscription := self.subscription
	self.subscription = nil
	self.generation += 1
	self.accountId = accountId
	generation := self.generation

	self.stateMutex.Unlock()

	// tear down the old subtree before the new one begins. the generation
	// bump above already fences out any push still in flight.
	if oldSubscription != nil {
		oldSubscription.Cancel()
	}

	if accountId == "" {
		self.log("account cleared, collection emptied")
		self.collection.ReplaceAll(nil)
		return
	}

	self.log("subscribe posts for account %s", accountId)
	self.collection.StartLoading()

	path := PostsPath(accountId)
	// the initial snapshot may be delivered synchronously, before the
	// handle is recorded. the generation guard covers both orders.
	subscription, err := self.directory.Subscribe(path, func(snapshot *Snapshot, err error) {
		self.apply(generation, accountId, path, snapshot, err)
	})
	if err != nil {
		self.collection.SetErr(err.Error())
		self.collection.ReplaceAll(nil)
		return
	}

	self.stateMutex.Lock()
	if self.closed || generation != self.generation {
		// the account changed again while subscribing
		self.stateMutex.Unlock()
		subscription.Cancel()
		return
	}
	self.subscription = subscription
	self.stateMutex.Unlock()
}

func (self *CollectionSync) apply(generation int, accountId string, path string, snapshot *Snapshot, err error) {
	self.stateMutex.Lock()
	stale := self.closed || generation != self.generation
	self.stateMutex.Unlock()
	if stale {
		self.log("drop stale push for %s", path)
		return
	}

	if err != nil {
		// never leave a stale list displayed as loading
		self.log("subscription failed for %s: %s", path, err)
		self.collection.SetErr(err.Error())
		self.collection.ReplaceAll(nil)
		return
	}

	if !snapshot.Exists || len(snapshot.Documents) == 0 {
		self.collection.ReplaceAll(nil)
		return
	}

	posts := make([]*Post, 0, len(snapshot.Documents))
	for documentId, doc := range snapshot.Documents {
		posts = append(posts, postFromDocument(accountId, documentId, doc))
	}
	sortPosts(posts)
	self.collection.ReplaceAll(posts)
}

func (self *CollectionSync) Close() {
	self.stateMutex.Lock()
	if self.closed {
		self.stateMutex.Unlock()
		return
	}
	self.closed = true
	self.generation += 1
	subscription := self.subscription
	self.subscription = nil
	unsubscribeSession := self.unsubscribeSession
	self.unsubscribeSession = nil
	self.stateMutex.Unlock()

	if unsubscribeSession != nil {
		unsubscribeSession()
	}
	if subscription != nil {
		subscription.Cancel()
	}
}

func postFromDocument(accountId string, documentId string, doc *PostDocument) *Post {
	post := &Post{
		Id:                documentId,
		Title:             doc.Title,
		Content:           doc.Content,
		OwnerId:           accountId,
		AuthorDisplayName: doc.Author,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}
	if doc.AuthorEmail != nil {
		post.AuthorEmail = *doc.AuthorEmail
	}
	if doc.AuthorPhoto != nil {
		post.AuthorAvatarUrl = *doc.AuthorPhoto
	}
	return post
}

// newest first. posts sharing a createdAt order by descending id, which is
// deterministic because the directory's generated ids are time-ordered.
func sortPosts(posts []*Post) {
	slices.SortStableFunc(posts, func(a *Post, b *Post) int {
		if a.CreatedAt != b.CreatedAt {
			if b.CreatedAt < a.CreatedAt {
				return -1
			}
			return 1
		}
		return strings.Compare(b.Id, a.Id)
	})
}
