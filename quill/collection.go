package quill

import (
	"sync"

	"golang.org/x/exp/slices"
)

type CollectionChangeFunction func()

// holds the ordered post list for the signed-in account. the remote
// directory is authoritative; this is a cached copy invalidated wholesale by
// every subscription push. create/update/delete outcomes mutate it
// optimistically for responsiveness and are superseded by the next push.
type PostCollection struct {
	mutex sync.Mutex

	// newest first
	posts            []*Post
	loading          bool
	actionInProgress bool
	lastErr          string

	changeCallbacks *CallbackList[CollectionChangeFunction]

	log LogFunction
}

func NewPostCollection() *PostCollection {
	return &PostCollection{
		changeCallbacks: NewCallbackList[CollectionChangeFunction](),
		log:             LogFn(LogLevelDebug, "collection"),
	}
}

// returns a copy, newest first
func (self *PostCollection) Posts() []*Post {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return slices.Clone(self.posts)
}

func (self *PostCollection) Loading() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.loading
}

func (self *PostCollection) ActionInProgress() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.actionInProgress
}

func (self *PostCollection) Err() string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.lastErr
}

func (self *PostCollection) ClearErr() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.lastErr = ""
}

// called when a new subscription begins
func (self *PostCollection) StartLoading() {
	self.mutex.Lock()
	self.loading = true
	self.mutex.Unlock()
	self.notify()
}

// wholesale replace from an authoritative snapshot. the caller supplies the
// list already sorted. this is the only path that adds or removes posts as a
// result of remote change.
func (self *PostCollection) ReplaceAll(posts []*Post) {
	self.mutex.Lock()
	self.posts = slices.Clone(posts)
	self.loading = false
	self.mutex.Unlock()

	self.log("replace all, %d posts", len(posts))
	self.notify()
}

func (self *PostCollection) SetErr(message string) {
	self.mutex.Lock()
	self.lastErr = message
	self.mutex.Unlock()
	self.notify()
}

func (self *PostCollection) CreateRequested() {
	self.beginAction()
}

// optimistic front insert. may be superseded by the next ReplaceAll.
// if an authoritative push already delivered the post, the insert is
// skipped so the id appears exactly once.
func (self *PostCollection) CreateSucceeded(post *Post) {
	self.mutex.Lock()
	self.actionInProgress = false
	present := slices.ContainsFunc(self.posts, func(existing *Post) bool {
		return existing.Id == post.Id
	})
	if !present {
		self.posts = append([]*Post{post.Copy()}, self.posts...)
	}
	self.mutex.Unlock()
	self.notify()
}

func (self *PostCollection) CreateFailed(message string) {
	self.failAction(message)
}

func (self *PostCollection) UpdateRequested() {
	self.beginAction()
}

// keyed merge of title/content/updatedAt. no-op if the post is absent -
// the next subscription push is authoritative.
func (self *PostCollection) UpdateSucceeded(patch PostPatch) {
	self.mutex.Lock()
	self.actionInProgress = false
	i := slices.IndexFunc(self.posts, func(post *Post) bool {
		return post.Id == patch.Id
	})
	if 0 <= i {
		post := self.posts[i].Copy()
		post.Title = patch.Title
		post.Content = patch.Content
		post.UpdatedAt = patch.UpdatedAt
		posts := slices.Clone(self.posts)
		posts[i] = post
		self.posts = posts
	}
	self.mutex.Unlock()
	self.notify()
}

func (self *PostCollection) UpdateFailed(message string) {
	self.failAction(message)
}

func (self *PostCollection) DeleteRequested() {
	self.beginAction()
}

// keyed filter. idempotent - a second call with the same id is a no-op.
func (self *PostCollection) DeleteSucceeded(postId string) {
	self.mutex.Lock()
	self.actionInProgress = false
	self.posts = slices.DeleteFunc(slices.Clone(self.posts), func(post *Post) bool {
		return post.Id == postId
	})
	self.mutex.Unlock()
	self.notify()
}

func (self *PostCollection) DeleteFailed(message string) {
	self.failAction(message)
}

// returns a func that removes the callback
func (self *PostCollection) AddChangeListener(callback CollectionChangeFunction) func() {
	return self.changeCallbacks.add(callback)
}

func (self *PostCollection) beginAction() {
	self.mutex.Lock()
	self.actionInProgress = true
	self.mutex.Unlock()
	self.notify()
}

// failure leaves the list untouched. the in-progress flag never sticks.
func (self *PostCollection) failAction(message string) {
	self.mutex.Lock()
	self.actionInProgress = false
	self.lastErr = message
	self.mutex.Unlock()
	self.notify()
}

func (self *PostCollection) notify() {
	for _, callback := range self.changeCallbacks.get() {
		callback := callback
		safeCallback(func() {
			callback()
		})
	}
}
