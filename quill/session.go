package quill

import (
	"fmt"
	"sync"
)

// session state machine:
//     Anonymous -> SigningIn -> Authenticated -> Anonymous
//     SigningIn -> Anonymous (sign-in failure, error retained)
// no other transitions

type SessionState int

const (
	SessionAnonymous SessionState = iota
	SessionSigningIn
	SessionAuthenticated
)

func (self SessionState) String() string {
	switch self {
	case SessionAnonymous:
		return "anonymous"
	case SessionSigningIn:
		return "signing-in"
	case SessionAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("unknown(%d)", int(self))
	}
}

type SessionChangeFunction func(account *Account)

// holds the current account (or none). updated exclusively by the identity
// provider's session-change notifications and by explicit sign-out. at most
// one account is active at a time.
type SessionStore struct {
	mutex sync.Mutex

	account *Account
	state   SessionState
	err     string

	changeCallbacks *CallbackList[SessionChangeFunction]

	log LogFunction
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		state:           SessionAnonymous,
		changeCallbacks: NewCallbackList[SessionChangeFunction](),
		log:             LogFn(LogLevelInfo, "session"),
	}
}

func (self *SessionStore) Account() *Account {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.account
}

func (self *SessionStore) State() SessionState {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.state
}

func (self *SessionStore) Err() string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.err
}

// replaces the current account unconditionally. this is the session-change
// notification path, including session restore at process start.
func (self *SessionStore) SetAccount(account *Account) {
	self.mutex.Lock()
	self.account = account
	if account == nil {
		self.state = SessionAnonymous
	} else {
		self.state = SessionAuthenticated
	}
	self.mutex.Unlock()

	self.log("set account %s", accountLabel(account))
	self.notify(account)
}

func (self *SessionStore) BeginSignIn() error {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.state != SessionAnonymous {
		return fmt.Errorf("sign-in not allowed from %s", self.state)
	}
	self.state = SessionSigningIn
	self.err = ""
	return nil
}

func (self *SessionStore) CompleteSignIn(account *Account) {
	self.mutex.Lock()
	self.account = account
	self.state = SessionAuthenticated
	self.err = ""
	self.mutex.Unlock()

	self.log("signed in as %s", accountLabel(account))
	self.notify(account)
}

// leaves the account as none and retains the message for display
func (self *SessionStore) FailSignIn(message string) {
	self.mutex.Lock()
	self.account = nil
	self.state = SessionAnonymous
	self.err = message
	self.mutex.Unlock()

	self.log("sign-in failed: %s", message)
	self.notify(nil)
}

func (self *SessionStore) SignOut() {
	self.mutex.Lock()
	self.account = nil
	self.state = SessionAnonymous
	self.err = ""
	self.mutex.Unlock()

	self.log("signed out")
	self.notify(nil)
}

func (self *SessionStore) ClearErr() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.err = ""
}

// the callback fires on every account replacement, including to none.
// returns a func that removes the callback.
func (self *SessionStore) AddChangeListener(callback SessionChangeFunction) func() {
	return self.changeCallbacks.add(callback)
}

func (self *SessionStore) notify(account *Account) {
	for _, callback := range self.changeCallbacks.get() {
		callback := callback
		safeCallback(func() {
			callback(account)
		})
	}
}

func accountLabel(account *Account) string {
	if account == nil {
		return "none"
	}
	return account.Id
}
