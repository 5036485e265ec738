package quill

// composition root. wires the identity provider's session stream into the
// session store, the session store into the collection sync, and exposes
// the blog operations.
type Client struct {
	provider  IdentityProvider
	directory Directory

	session    *SessionStore
	collection *PostCollection
	sync       *CollectionSync
	blog       *Blog

	unsubscribeProvider func()
}

func NewClient(provider IdentityProvider, directory Directory) *Client {
	session := NewSessionStore()
	collection := NewPostCollection()

	client := &Client{
		provider:   provider,
		directory:  directory,
		session:    session,
		collection: collection,
		sync:       NewCollectionSync(session, collection, directory),
		blog:       NewBlog(session, collection, directory),
	}
	// the provider stream fires at process start (session restore) and on
	// every sign-in/out
	client.unsubscribeProvider = provider.AddSessionListener(session.SetAccount)
	return client
}

func (self *Client) Session() *SessionStore {
	return self.session
}

func (self *Client) Collection() *PostCollection {
	return self.collection
}

func (self *Client) SignIn(callback AccountCallback) error {
	if err := self.session.BeginSignIn(); err != nil {
		return err
	}
	self.provider.InteractiveSignIn(NewResultCallback(func(account *Account, err error) {
		if err != nil {
			self.session.FailSignIn(err.Error())
		} else {
			self.session.CompleteSignIn(account)
		}
		callback.Result(account, err)
	}))
	return nil
}

// the provider-side sign-out may fail independently. the local session is
// cleared only on success.
func (self *Client) SignOut(callback AckCallback) {
	self.provider.SignOut(NewResultCallback(func(ok bool, err error) {
		if err == nil {
			self.session.SignOut()
		}
		callback.Result(ok, err)
	}))
}

func (self *Client) CreatePost(input PostInput, callback PostCallback) error {
	return self.blog.CreatePost(input, callback)
}

func (self *Client) UpdatePost(postId string, input PostInput, callback PostPatchCallback) error {
	return self.blog.UpdatePost(postId, input, callback)
}

func (self *Client) DeletePost(postId string, callback DeleteCallback) error {
	return self.blog.DeletePost(postId, callback)
}

func (self *Client) Posts() []*Post {
	return self.collection.Posts()
}

func (self *Client) Close() {
	if self.unsubscribeProvider != nil {
		self.unsubscribeProvider()
		self.unsubscribeProvider = nil
	}
	self.sync.Close()
}
