package device

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/switchcraft/switchcraft/pkg/inventory"
	"github.com/switchcraft/switchcraft/pkg/model"
)

// fakeDispatcher mimics the GS1900 /cgi-bin/dispatcher.cgi: login and
// login_chk exchanges, per-page XSSID tokens on GET, and recorded form
// POSTs.
type fakeDispatcher struct {
	posts []url.Values
}

func (d *fakeDispatcher) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cgi-bin/dispatcher.cgi" {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodGet {
			cmd := r.URL.Query().Get("cmd")
			fmt.Fprintf(w, `<form><input type="hidden" name="XSSID" value="tok-%s"></form>`, cmd)
			return
		}

		body, _ := io.ReadAll(r.Body)
		text := string(body)
		switch {
		case strings.Contains(text, "login_chk=true"):
			fmt.Fprint(w, "OK")
		case strings.Contains(text, "login=true"):
			fmt.Fprint(w, "0123456789abcdef0123456789abcdef")
		default:
			values, err := url.ParseQuery(text)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			d.posts = append(d.posts, values)
		}
	})
}

func webTestHandler(t *testing.T) (*ZyxelWebHandler, *fakeDispatcher) {
	t.Helper()
	dispatcher := &fakeDispatcher{}
	srv := httptest.NewTLSServer(dispatcher.handler())
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())
	t.Setenv("NETWORK_PASSWORD", "secret")

	dev := &inventory.Device{
		ID: "lab-zyxel-web", Type: inventory.TypeZyxelHTTPS,
		Host: u.Hostname(), Port: port,
		Username: "admin", TimeoutSeconds: 5,
	}
	return NewZyxelWebHandler(dev), dispatcher
}

func findPost(posts []url.Values, key, value string) url.Values {
	for _, p := range posts {
		if p.Get(key) == value {
			return p
		}
	}
	return nil
}

func TestZyxelWebCreateVLANPostsForms(t *testing.T) {
	h, dispatcher := webTestHandler(t)

	vlan := &model.VLAN{
		ID: 100, Name: "Servers",
		UntaggedPorts: []string{"5"},
		TaggedPorts:   []string{"25"},
	}
	if err := h.CreateVLAN(context.Background(), vlan); err != nil {
		t.Fatalf("CreateVLAN failed: %v", err)
	}

	if len(dispatcher.posts) != 2 {
		t.Fatalf("posts = %d, want 2 (vlan add + membership)", len(dispatcher.posts))
	}

	add := findPost(dispatcher.posts, "vname", "Servers")
	if add == nil {
		t.Fatalf("no vlan-add post recorded: %+v", dispatcher.posts)
	}
	if add.Get("vid") != "100" {
		t.Errorf("vid = %q", add.Get("vid"))
	}
	if !strings.HasPrefix(add.Get("XSSID"), "tok-") {
		t.Errorf("vlan-add post missing XSSID token: %v", add)
	}

	membership := findPost(dispatcher.posts, "port5", "3")
	if membership == nil {
		t.Fatalf("no membership post with port5 untagged: %+v", dispatcher.posts)
	}
	if membership.Get("port25") != "2" {
		t.Errorf("port25 = %q, want tagged (2)", membership.Get("port25"))
	}
	if membership.Get("vid") != "100" {
		t.Errorf("membership vid = %q", membership.Get("vid"))
	}
	if !strings.HasPrefix(membership.Get("XSSID"), "tok-") {
		t.Errorf("membership post missing XSSID token: %v", membership)
	}
}

func TestZyxelWebDeleteVLANPostsForm(t *testing.T) {
	h, dispatcher := webTestHandler(t)

	if err := h.DeleteVLAN(context.Background(), 100); err != nil {
		t.Fatalf("DeleteVLAN failed: %v", err)
	}
	del := findPost(dispatcher.posts, "sysSubmit", "Delete")
	if del == nil {
		t.Fatalf("no delete post recorded: %+v", dispatcher.posts)
	}
	if del.Get("vid") != "100" {
		t.Errorf("vid = %q", del.Get("vid"))
	}
	if !strings.HasPrefix(del.Get("XSSID"), "tok-") {
		t.Errorf("delete post missing XSSID token: %v", del)
	}
}

func TestZyxelWebConfigurePortPostsForm(t *testing.T) {
	h, dispatcher := webTestHandler(t)

	port := &model.Port{Name: "7", PVID: 999, Description: "camera"}
	if err := h.ConfigurePort(context.Background(), port); err != nil {
		t.Fatalf("ConfigurePort failed: %v", err)
	}
	post := findPost(dispatcher.posts, "ports", "7")
	if post == nil {
		t.Fatalf("no port post recorded: %+v", dispatcher.posts)
	}
	if post.Get("pvid") != "999" {
		t.Errorf("pvid = %q", post.Get("pvid"))
	}
	if post.Get("name") != "camera" {
		t.Errorf("name = %q", post.Get("name"))
	}
}
