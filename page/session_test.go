package page

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const formPage = `<html><body>
<h1>Create your account</h1>
<p>Already have one? <a href="/login" id="login-link">Log in</a></p>
<form action="/register" method="post">
  <input type="text" name="email">
  <input type="password" name="password">
  <input type="hidden" name="csrf" value="tok-123">
  <button type="submit">Continue</button>
</form>
</body></html>`

func newFormServer(t *testing.T) (*httptest.Server, *map[string]string) {
	t.Helper()
	posted := map[string]string{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, formPage)
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for key := range r.PostForm {
			posted[key] = r.PostForm.Get(key)
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc123"})
		fmt.Fprint(w, `<html><body><span>Welcome aboard</span></body></html>`)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>Log in</h1></body></html>`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &posted
}

func openSession(t *testing.T, url string) *Session {
	t.Helper()
	s, err := NewSession("")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Open(url); err != nil {
		t.Fatalf("open %s: %v", url, err)
	}
	return s
}

func TestFindBySelectorAndText(t *testing.T) {
	t.Parallel()

	server, _ := newFormServer(t)
	s := openSession(t, server.URL)

	if s.Find("input[name=email]") == nil {
		t.Fatal("email input not found by selector")
	}
	if s.Find("input[name=missing]") != nil {
		t.Fatal("selector for a missing element must return nil")
	}
	el := s.FindText("Log in")
	if el == nil {
		t.Fatal("link not found by text")
	}
	if s.FindText("No such text anywhere") != nil {
		t.Fatal("absent text must return nil")
	}
	hidden := s.Find("input[name=csrf]")
	if hidden == nil || hidden.Attr("value") != "tok-123" {
		t.Fatal("attribute read failed for the hidden input")
	}
}

func TestSubmitFormCarriesTypedAndDeclaredValues(t *testing.T) {
	t.Parallel()

	server, posted := newFormServer(t)
	s := openSession(t, server.URL)

	if err := s.Find("input[name=email]").Input("a@b.test"); err != nil {
		t.Fatalf("type email: %v", err)
	}
	if err := s.Find("input[name=password]").Input("hunter2!"); err != nil {
		t.Fatalf("type password: %v", err)
	}
	if err := s.FindText("Continue").Click(); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if (*posted)["email"] != "a@b.test" || (*posted)["password"] != "hunter2!" {
		t.Fatalf("typed values not posted: %v", *posted)
	}
	if (*posted)["csrf"] != "tok-123" {
		t.Fatalf("declared hidden value not posted: %v", *posted)
	}
	if s.FindText("Welcome aboard") == nil {
		t.Fatal("session did not land on the response document")
	}
}

func TestClickLinkNavigates(t *testing.T) {
	t.Parallel()

	server, _ := newFormServer(t)
	s := openSession(t, server.URL)

	if err := s.FindText("Log in").Click(); err != nil {
		t.Fatalf("follow link: %v", err)
	}
	if s.FindText("Log in") == nil {
		t.Fatal("expected the login page heading")
	}
	if s.Find("input[name=email]") != nil {
		t.Fatal("old document still visible after navigation")
	}
}

func TestCookiesVisibleAfterResponse(t *testing.T) {
	t.Parallel()

	server, _ := newFormServer(t)
	s := openSession(t, server.URL)
	s.Find("input[name=email]").Input("a@b.test")
	if err := s.FindText("Continue").Click(); err != nil {
		t.Fatalf("submit: %v", err)
	}

	var got string
	for _, c := range s.Cookies() {
		if c.Name == "session" {
			got = c.Value
		}
	}
	if got != "abc123" {
		t.Fatalf("session cookie not captured, cookies: %v", s.Cookies())
	}
}

func TestNavigationResetsFormState(t *testing.T) {
	t.Parallel()

	server, posted := newFormServer(t)
	s := openSession(t, server.URL)
	s.Find("input[name=email]").Input("stale@b.test")

	// Re-opening the page discards anything typed before.
	if err := s.Open(server.URL); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := s.FindText("Continue").Click(); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if (*posted)["email"] != "" {
		t.Fatalf("stale input survived navigation: %v", *posted)
	}
}

func TestEvalIsUnsupported(t *testing.T) {
	t.Parallel()

	server, _ := newFormServer(t)
	s := openSession(t, server.URL)
	if _, err := s.Eval("return 1"); err == nil {
		t.Fatal("Eval must report that scripting is unavailable")
	}
}

func TestWaitForTimesOut(t *testing.T) {
	t.Parallel()

	server, _ := newFormServer(t)
	s := openSession(t, server.URL)
	start := time.Now()
	if el := s.WaitFor("input[name=never]", 100*time.Millisecond); el != nil {
		t.Fatal("expected nil for a selector that never appears")
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("WaitFor overshot its timeout")
	}
}
