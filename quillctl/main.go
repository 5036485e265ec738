package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"golang.org/x/term"

	"github.com/quillhq/quill/quill"
)

const QuillCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Quill control. Private blog client.

The default urls are:
    auth_url: https://auth.quillhq.com
    directory_url: wss://directory.quillhq.com

Usage:
    quillctl login [--auth_url=<auth_url>] [--token=<id_token>]
    quillctl logout [--auth_url=<auth_url>]
    quillctl whoami [--auth_url=<auth_url>]
    quillctl list [--auth_url=<auth_url>] [--directory_url=<directory_url>] [--local]
    quillctl write [--auth_url=<auth_url>] [--directory_url=<directory_url>] [--local]
        --title=<title>
        [--content_file=<content_file>]
    quillctl edit [--auth_url=<auth_url>] [--directory_url=<directory_url>] [--local]
        <post_id>
        [--title=<title>]
        [--content_file=<content_file>]
    quillctl delete [--auth_url=<auth_url>] [--directory_url=<directory_url>] [--local]
        <post_id> [--yes]
    quillctl watch [--auth_url=<auth_url>] [--directory_url=<directory_url>] [--local]

Options:
    -h --help                        Show this screen.
    --version                        Show version.
    --auth_url=<auth_url>
    --directory_url=<directory_url>
    --token=<id_token>               Provider id token. Prompted if omitted.
    --title=<title>
    --content_file=<content_file>    Read the content from a file. Default stdin.
    --yes                            Skip the confirmation prompt.
    --local                          Use an in-process directory (demo mode).`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], QuillCtlVersion)
	if err != nil {
		panic(err)
	}

	if login, _ := opts.Bool("login"); login {
		loginCmd(opts)
	} else if logout, _ := opts.Bool("logout"); logout {
		logoutCmd(opts)
	} else if whoami, _ := opts.Bool("whoami"); whoami {
		whoamiCmd(opts)
	} else if list, _ := opts.Bool("list"); list {
		listCmd(opts)
	} else if write, _ := opts.Bool("write"); write {
		writeCmd(opts)
	} else if edit, _ := opts.Bool("edit"); edit {
		editCmd(opts)
	} else if delete_, _ := opts.Bool("delete"); delete_ {
		deleteCmd(opts)
	} else if watch, _ := opts.Bool("watch"); watch {
		watchCmd(opts)
	}
}

func authUrl(opts docopt.Opts) string {
	if authUrl, err := opts.String("--auth_url"); err == nil && authUrl != "" {
		return authUrl
	}
	return "https://auth.quillhq.com"
}

func directoryUrl(opts docopt.Opts) string {
	if directoryUrl, err := opts.String("--directory_url"); err == nil && directoryUrl != "" {
		return directoryUrl
	}
	return "wss://directory.quillhq.com"
}

func newAuthApi(opts docopt.Opts) *quill.AuthApi {
	tokenStore, err := quill.NewTokenStore()
	if err != nil {
		Err.Fatalf("Could not open the session cache: %s", err)
	}
	return quill.NewAuthApi(authUrl(opts), promptToken, tokenStore)
}

func promptToken() (string, error) {
	fmt.Fprint(os.Stderr, "Provider id token: ")
	tokenBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(tokenBytes)), nil
}

func loginCmd(opts docopt.Opts) {
	api := newAuthApi(opts)
	defer api.Close()

	callback, c := quill.NewBlockingResultCallback[*quill.Account]()
	if token, err := opts.String("--token"); err == nil && token != "" {
		go api.SignInWithToken(token, callback)
	} else {
		api.InteractiveSignIn(callback)
	}

	result := <-c
	if result.Error != nil {
		Err.Fatalf("Sign-in failed: %s", result.Error)
	}
	account := result.Result
	if account.DisplayName != "" {
		Out.Printf("Signed in as %s (%s)", account.DisplayName, account.Id)
	} else {
		Out.Printf("Signed in as %s", account.Id)
	}
}

func logoutCmd(opts docopt.Opts) {
	api := newAuthApi(opts)
	defer api.Close()
	api.Start()

	callback, c := quill.NewBlockingResultCallback[bool]()
	api.SignOut(callback)
	result := <-c
	if result.Error != nil {
		Err.Fatalf("Sign-out failed: %s", result.Error)
	}
	Out.Printf("Signed out")
}

func whoamiCmd(opts docopt.Opts) {
	api := newAuthApi(opts)
	defer api.Close()
	api.Start()

	callback, c := quill.NewBlockingResultCallback[*quill.Account]()
	api.Me(callback)
	result := <-c
	if result.Error != nil {
		Err.Fatalf("%s", result.Error)
	}
	account := result.Result
	Out.Printf("%s", account.Id)
	if account.DisplayName != "" {
		Out.Printf("%s", account.DisplayName)
	}
	if account.Email != "" {
		Out.Printf("%s", account.Email)
	}
}

// restores the session and connects the directory. the returned client has
// a live subscription for the signed-in account.
func newClient(opts docopt.Opts) (*quill.Client, func()) {
	api := newAuthApi(opts)
	local, _ := opts.Bool("--local")

	var directory quill.Directory
	if local {
		directory = quill.NewMemoryDirectory()
	} else {
		idToken := restoredIdToken()
		directoryClient, err := quill.NewDirectoryClientWithDefaults(
			context.Background(),
			directoryUrl(opts),
			&quill.DirectoryAuth{
				IdToken:    idToken,
				InstanceId: quill.NewId(),
				AppVersion: QuillCtlVersion,
			},
		)
		if err != nil {
			Err.Fatalf("Could not connect to the directory: %s", err)
		}
		directory = directoryClient
	}

	client := quill.NewClient(api, directory)
	api.Start()

	if client.Session().Account() == nil {
		if local {
			seedLocalSession(client)
		} else {
			Err.Fatalf("Not signed in. Run `quillctl login` first.")
		}
	}

	closeAll := func() {
		client.Close()
		if directoryClient, ok := directory.(*quill.DirectoryClient); ok {
			directoryClient.Close()
		}
		api.Close()
	}
	return client, closeAll
}

// demo mode needs no provider login. the directory is in-process and
// empty, so any account works.
func seedLocalSession(client *quill.Client) {
	client.Session().SetAccount(&quill.Account{
		Id:          "local",
		DisplayName: "Local Author",
	})
}

// peek at the cached session without emitting it, so the directory can be
// connected before the client subscribes
func restoredIdToken() string {
	tokenStore, err := quill.NewTokenStore()
	if err != nil {
		Err.Fatalf("Could not open the session cache: %s", err)
	}
	idToken, err := tokenStore.Load()
	if err != nil || idToken == "" {
		Err.Fatalf("Not signed in. Run `quillctl login` first.")
	}
	return idToken
}

func waitForLoad(client *quill.Client) {
	loaded := make(chan struct{}, 1)
	unsubscribe := client.Collection().AddChangeListener(func() {
		if !client.Collection().Loading() {
			select {
			case loaded <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if !client.Collection().Loading() {
		return
	}
	select {
	case <-loaded:
	case <-time.After(30 * time.Second):
		Err.Fatalf("Timed out loading posts.")
	}
}

func formatDate(epochMillis int64) string {
	return time.UnixMilli(epochMillis).Format("January 2, 2006 03:04 PM")
}

func listCmd(opts docopt.Opts) {
	client, closeAll := newClient(opts)
	defer closeAll()

	waitForLoad(client)
	printPosts(client.Posts())
}

func printPosts(posts []*quill.Post) {
	if len(posts) == 0 {
		Out.Printf("No posts yet.")
		return
	}
	for _, post := range posts {
		Out.Printf("%s  %s", post.Id, post.Title)
		Out.Printf("    Created: %s", formatDate(post.CreatedAt))
		if post.CreatedAt < post.UpdatedAt {
			Out.Printf("    Updated: %s", formatDate(post.UpdatedAt))
		}
		Out.Printf("")
	}
}

func readContent(opts docopt.Opts) string {
	if contentFile, err := opts.String("--content_file"); err == nil && contentFile != "" {
		contentBytes, err := os.ReadFile(contentFile)
		if err != nil {
			Err.Fatalf("Could not read %s: %s", contentFile, err)
		}
		return string(contentBytes)
	}
	contentBytes, err := io.ReadAll(os.Stdin)
	if err != nil {
		Err.Fatalf("Could not read stdin: %s", err)
	}
	return string(contentBytes)
}

func writeCmd(opts docopt.Opts) {
	client, closeAll := newClient(opts)
	defer closeAll()
	waitForLoad(client)

	title, _ := opts.String("--title")
	input := quill.PostInput{
		Title:   title,
		Content: readContent(opts),
	}

	callback, c := quill.NewBlockingResultCallback[*quill.Post]()
	if err := client.CreatePost(input, callback); err != nil {
		Err.Fatalf("%s", err)
	}
	result := <-c
	if result.Error != nil {
		Err.Fatalf("Create failed: %s", result.Error)
	}
	Out.Printf("Created %s", result.Result.Id)
}

func editCmd(opts docopt.Opts) {
	client, closeAll := newClient(opts)
	defer closeAll()
	waitForLoad(client)

	postId, _ := opts.String("<post_id>")
	var existing *quill.Post
	for _, post := range client.Posts() {
		if post.Id == postId {
			existing = post
			break
		}
	}
	if existing == nil {
		Err.Fatalf("No post %s", postId)
	}

	// unchanged fields keep their current values
	input := quill.PostInput{
		Title:   existing.Title,
		Content: existing.Content,
	}
	if title, err := opts.String("--title"); err == nil && title != "" {
		input.Title = title
	}
	if contentFile, err := opts.String("--content_file"); err == nil && contentFile != "" {
		input.Content = readContent(opts)
	}

	callback, c := quill.NewBlockingResultCallback[quill.PostPatch]()
	if err := client.UpdatePost(postId, input, callback); err != nil {
		Err.Fatalf("%s", err)
	}
	result := <-c
	if result.Error != nil {
		Err.Fatalf("Update failed: %s", result.Error)
	}
	Out.Printf("Updated %s", postId)
}

func deleteCmd(opts docopt.Opts) {
	client, closeAll := newClient(opts)
	defer closeAll()
	waitForLoad(client)

	postId, _ := opts.String("<post_id>")
	if yes, _ := opts.Bool("--yes"); !yes {
		fmt.Fprintf(os.Stderr, "Delete %s? This cannot be undone. [y/N] ", postId)
		var answer string
		fmt.Scanln(&answer)
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			Out.Printf("Cancelled.")
			return
		}
	}

	callback, c := quill.NewBlockingResultCallback[string]()
	if err := client.DeletePost(postId, callback); err != nil {
		Err.Fatalf("%s", err)
	}
	result := <-c
	if result.Error != nil {
		Err.Fatalf("Delete failed: %s", result.Error)
	}
	Out.Printf("Deleted %s", postId)
}

func watchCmd(opts docopt.Opts) {
	client, closeAll := newClient(opts)
	defer closeAll()

	unsubscribe := client.Collection().AddChangeListener(func() {
		if client.Collection().Loading() {
			return
		}
		Out.Printf("---- %s ----", time.Now().Format(time.RFC3339))
		printPosts(client.Posts())
	})
	defer unsubscribe()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
}
