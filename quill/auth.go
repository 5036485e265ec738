package quill

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gojwt "github.com/golang-jwt/jwt/v5"
)

type AccountCallback resultCallback[*Account]
type AckCallback resultCallback[bool]

// the external identity provider: supplies the signed-in account, an
// interactive sign-in/sign-out flow, and a session-change stream. the stream
// fires at process start (session restore) and on every sign-in/out.
type IdentityProvider interface {
	InteractiveSignIn(callback AccountCallback)
	SignOut(callback AckCallback)
	// returns a func that removes the callback
	AddSessionListener(callback SessionChangeFunction) func()
}

// obtains a provider id token for interactive sign-in, e.g. by prompting
// the user or opening a browser flow
type TokenSource func() (string, error)

// extracts the account from the provider's signed id token. the token is
// verified by the auth service; locally only the claims are read.
func AccountFromIdToken(idToken string) (*Account, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(idToken, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	account := &Account{}
	if sub, ok := claims["sub"]; ok {
		account.Id, _ = sub.(string)
	}
	if account.Id == "" {
		return nil, fmt.Errorf("id token missing sub claim")
	}
	if email, ok := claims["email"]; ok {
		account.Email, _ = email.(string)
	}
	if name, ok := claims["name"]; ok {
		account.DisplayName, _ = name.(string)
	}
	if picture, ok := claims["picture"]; ok {
		account.AvatarUrl, _ = picture.(string)
	}

	return account, nil
}

type AuthSignInArgs struct {
	IdToken string `json:"id_token"`
}

type AuthSignInResult struct {
	Account *AuthSignInResultAccount `json:"account,omitempty"`
	Error   *AuthSignInResultError   `json:"error,omitempty"`
}

type AuthSignInResultAccount struct {
	AccountId   string `json:"account_id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarUrl   string `json:"avatar_url,omitempty"`
}

type AuthSignInResultError struct {
	Message string `json:"message"`
}

type AuthSignOutArgs struct {
}

type AuthSignOutResult struct {
	Error *AuthSignOutResultError `json:"error,omitempty"`
}

type AuthSignOutResultError struct {
	Message string `json:"message"`
}

// http client for the managed auth service
type AuthApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	authUrl     string
	tokenSource TokenSource
	tokenStore  *TokenStore

	sessionCallbacks *CallbackList[SessionChangeFunction]

	stateMutex sync.Mutex
	idToken    string

	log LogFunction
}

func NewAuthApi(authUrl string, tokenSource TokenSource, tokenStore *TokenStore) *AuthApi {
	return NewAuthApiWithContext(context.Background(), authUrl, tokenSource, tokenStore)
}

func NewAuthApiWithContext(ctx context.Context, authUrl string, tokenSource TokenSource, tokenStore *TokenStore) *AuthApi {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &AuthApi{
		ctx:              cancelCtx,
		cancel:           cancel,
		authUrl:          authUrl,
		tokenSource:      tokenSource,
		tokenStore:       tokenStore,
		sessionCallbacks: NewCallbackList[SessionChangeFunction](),
		log:              LogFn(LogLevelInfo, "auth"),
	}
}

// session restore. emits the cached session (or none) to session listeners,
// as the provider does at process start.
func (self *AuthApi) Start() {
	idToken := ""
	if self.tokenStore != nil {
		idToken, _ = self.tokenStore.Load()
	}
	if idToken == "" {
		self.notifySession(nil)
		return
	}
	account, err := AccountFromIdToken(idToken)
	if err != nil {
		self.log("cached session invalid: %s", err)
		self.notifySession(nil)
		return
	}
	self.setIdToken(idToken)
	self.log("session restored for %s", account.Id)
	self.notifySession(account)
}

func (self *AuthApi) IdToken() string {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.idToken
}

func (self *AuthApi) setIdToken(idToken string) {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	self.idToken = idToken
}

func (self *AuthApi) InteractiveSignIn(callback AccountCallback) {
	go func() {
		idToken, err := self.tokenSource()
		if err != nil {
			callback.Result(nil, &AuthError{Message: err.Error()})
			return
		}
		self.SignInWithToken(idToken, callback)
	}()
}

// verifies the id token with the auth service, then emits the account to
// session listeners
func (self *AuthApi) SignInWithToken(idToken string, callback AccountCallback) {
	result, err := httpPost(
		self.ctx,
		fmt.Sprintf("%s/auth/sign-in", self.authUrl),
		&AuthSignInArgs{IdToken: idToken},
		"",
		&AuthSignInResult{},
		NewNoopResultCallback[*AuthSignInResult](),
	)
	if err != nil {
		callback.Result(nil, &AuthError{Message: err.Error()})
		return
	}
	if result.Error != nil {
		callback.Result(nil, &AuthError{Message: result.Error.Message})
		return
	}
	if result.Account == nil {
		callback.Result(nil, &AuthError{Message: "sign-in response missing account"})
		return
	}

	account := &Account{
		Id:          result.Account.AccountId,
		Email:       result.Account.Email,
		DisplayName: result.Account.DisplayName,
		AvatarUrl:   result.Account.AvatarUrl,
	}
	self.setIdToken(idToken)
	if self.tokenStore != nil {
		if err := self.tokenStore.Save(idToken); err != nil {
			self.log("could not cache session: %s", err)
		}
	}

	self.notifySession(account)
	callback.Result(account, nil)
}

type AuthMeResult struct {
	Account *AuthSignInResultAccount `json:"account,omitempty"`
	Error   *AuthSignInResultError   `json:"error,omitempty"`
}

// fetches the live profile for the signed-in account from the auth service.
// note post author snapshots are never refreshed from this.
func (self *AuthApi) Me(callback AccountCallback) {
	go func() {
		result, err := httpGet(
			self.ctx,
			fmt.Sprintf("%s/auth/me", self.authUrl),
			self.IdToken(),
			&AuthMeResult{},
			NewNoopResultCallback[*AuthMeResult](),
		)
		if err != nil {
			callback.Result(nil, &AuthError{Message: err.Error()})
			return
		}
		if result.Error != nil {
			callback.Result(nil, &AuthError{Message: result.Error.Message})
			return
		}
		if result.Account == nil {
			callback.Result(nil, &AuthError{Message: "me response missing account"})
			return
		}
		callback.Result(&Account{
			Id:          result.Account.AccountId,
			Email:       result.Account.Email,
			DisplayName: result.Account.DisplayName,
			AvatarUrl:   result.Account.AvatarUrl,
		}, nil)
	}()
}

// the provider-side sign-out can fail independently of the local session.
// the local session is only cleared on success.
func (self *AuthApi) SignOut(callback AckCallback) {
	go func() {
		result, err := httpPost(
			self.ctx,
			fmt.Sprintf("%s/auth/sign-out", self.authUrl),
			&AuthSignOutArgs{},
			self.IdToken(),
			&AuthSignOutResult{},
			NewNoopResultCallback[*AuthSignOutResult](),
		)
		if err != nil {
			callback.Result(false, &AuthError{Message: err.Error()})
			return
		}
		if result.Error != nil {
			callback.Result(false, &AuthError{Message: result.Error.Message})
			return
		}

		self.setIdToken("")
		if self.tokenStore != nil {
			self.tokenStore.Clear()
		}
		self.notifySession(nil)
		callback.Result(true, nil)
	}()
}

func (self *AuthApi) AddSessionListener(callback SessionChangeFunction) func() {
	return self.sessionCallbacks.add(callback)
}

func (self *AuthApi) Close() {
	self.cancel()
}

func (self *AuthApi) notifySession(account *Account) {
	for _, callback := range self.sessionCallbacks.get() {
		callback := callback
		safeCallback(func() {
			callback(account)
		})
	}
}

// caches the provider id token between runs so the session survives restart
type TokenStore struct {
	path string
}

func NewTokenStore() (*TokenStore, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	return NewTokenStoreWithPath(filepath.Join(configDir, "quill", "session")), nil
}

func NewTokenStoreWithPath(path string) *TokenStore {
	return &TokenStore{
		path: path,
	}
}

func (self *TokenStore) Load() (string, error) {
	tokenBytes, err := os.ReadFile(self.path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(tokenBytes)), nil
}

func (self *TokenStore) Save(idToken string) error {
	if err := os.MkdirAll(filepath.Dir(self.path), 0700); err != nil {
		return err
	}
	return os.WriteFile(self.path, []byte(idToken), 0600)
}

func (self *TokenStore) Clear() error {
	err := os.Remove(self.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
