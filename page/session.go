package page

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"net/url"
	"strings"
	"time"

	orderedform "github.com/CrimsonAIO/ordered-form"
	"github.com/PuerkitoBio/goquery"
	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

var TLS_PROFILES = []profiles.ClientProfile{
	profiles.Chrome_120,
	profiles.Chrome_117,
	profiles.Firefox_120,
	profiles.Firefox_117,
	profiles.Safari_15_6_1,
}

var browserHeaders = [][2]string{
	{"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8"},
	{"Accept-Language", "en-US,en;q=0.9"},
	{"Cache-Control", "no-cache"},
	{"Connection", "keep-alive"},
	{"Upgrade-Insecure-Requests", "1"},
	{"User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"},
	{"sec-ch-ua", "\"Chromium\";v=\"121\", \"Not A(Brand\";v=\"99\""},
	{"sec-ch-ua-mobile", "?0"},
	{"sec-ch-ua-platform", "\"Linux\""},
}

// Session emulates a browser tab over a fingerprinted HTTP client: it
// fetches documents, tracks form state and submits forms the way the
// page would. Script execution is not available in this mode.
type Session struct {
	client     tls_client.HttpClient
	currentURL *url.URL
	doc        *goquery.Document

	// pending form inputs typed since the last navigation, in order.
	formNames  []string
	formValues map[string]string
}

// NewSession builds a session with a random browser TLS profile. proxy
// may be empty.
func NewSession(proxy string) (*Session, error) {
	profile := TLS_PROFILES[rand.Intn(len(TLS_PROFILES))]
	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(30),
		tls_client.WithInsecureSkipVerify(),
		tls_client.WithClientProfile(profile),
		tls_client.WithCookieJar(tls_client.NewCookieJar()),
	}
	if proxy != "" {
		options = append(options, tls_client.WithProxyUrl(proxy))
	}
	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}
	return &Session{client: client, formValues: map[string]string{}}, nil
}

func (s *Session) Open(rawURL string) error {
	req, err := fhttp.NewRequest("GET", rawURL, nil)
	if err != nil {
		return err
	}
	return s.do(req, "")
}

func (s *Session) do(req *fhttp.Request, referer string) error {
	for _, kv := range browserHeaders {
		req.Header.Set(kv[0], kv[1])
		req.Header.Add(fhttp.HeaderOrderKey, kv[0])
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode > 299 {
		return fmt.Errorf("request failed with status %s", resp.Status)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("html parse error: %w", err)
	}
	s.doc = doc
	s.currentURL = resp.Request.URL
	s.formNames = s.formNames[:0]
	s.formValues = map[string]string{}
	return nil
}

func (s *Session) Find(selector string) Element {
	if s.doc == nil {
		return nil
	}
	sel := s.doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil
	}
	return &node{session: s, sel: sel}
}

func (s *Session) FindText(text string) Element {
	if s.doc == nil {
		return nil
	}
	// Prefer the innermost match: a wrapper div containing the text
	// matches too, but clicking the wrapper does nothing.
	var found *goquery.Selection
	s.doc.Find("button,a,span,div,label,h1,h2,h3,p").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !strings.Contains(strings.TrimSpace(sel.Text()), text) {
			return true
		}
		if inner := sel.Find("button,a,span,div,label,h1,h2,h3,p"); inner.Length() > 0 {
			deeper := false
			inner.Each(func(_ int, child *goquery.Selection) {
				if strings.Contains(strings.TrimSpace(child.Text()), text) {
					deeper = true
				}
			})
			if deeper {
				return true // a descendant will match on its own
			}
		}
		found = sel
		return false
	})
	if found == nil {
		return nil
	}
	return &node{session: s, sel: found}
}

// WaitFor re-fetches the current document between checks, since an HTTP
// session has no live DOM to observe.
func (s *Session) WaitFor(selector string, timeout time.Duration) Element {
	deadline := time.Now().Add(timeout)
	for {
		if el := s.Find(selector); el != nil {
			return el
		}
		if time.Now().After(deadline) {
			return nil
		}
		time.Sleep(time.Second + time.Duration(rand.Intn(1000))*time.Millisecond)
		if s.currentURL != nil {
			s.Open(s.currentURL.String())
		}
	}
}

func (s *Session) Eval(string) (string, error) {
	return "", fmt.Errorf("script execution is not supported by the http session")
}

func (s *Session) Cookies() []Cookie {
	if s.currentURL == nil {
		return nil
	}
	var out []Cookie
	for _, c := range s.client.GetCookies(s.currentURL) {
		out = append(out, Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

func (s *Session) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// node implements Element against the parsed document.
type node struct {
	session *Session
	sel     *goquery.Selection
}

func (n *node) Text() string {
	return strings.TrimSpace(n.sel.Text())
}

func (n *node) Attr(name string) string {
	v, _ := n.sel.Attr(name)
	return v
}

func (n *node) Input(text string) error {
	name, ok := n.sel.Attr("name")
	if !ok || name == "" {
		return fmt.Errorf("input element has no name attribute")
	}
	if _, seen := n.session.formValues[name]; !seen {
		n.session.formNames = append(n.session.formNames, name)
	}
	n.session.formValues[name] = text
	return nil
}

// Click submits the enclosing form for submit controls and follows the
// href for links. Anything else is a no-op click.
func (n *node) Click() error {
	if t, _ := n.sel.Attr("type"); t == "submit" || goquery.NodeName(n.sel) == "button" {
		return n.session.submitForm(n.sel.Closest("form"))
	}
	if href, ok := n.sel.Attr("href"); ok && href != "" {
		return n.session.Open(n.session.resolve(href))
	}
	return nil
}

func (s *Session) submitForm(form *goquery.Selection) error {
	if form == nil || form.Length() == 0 {
		return fmt.Errorf("no form to submit")
	}
	action, _ := form.Attr("action")
	target := s.resolve(action)

	body := orderedform.Form{}
	added := map[string]bool{}
	form.Find("input,select,textarea").Each(func(_ int, in *goquery.Selection) {
		name, ok := in.Attr("name")
		if !ok || name == "" || added[name] {
			return
		}
		added[name] = true
		if typed, ok := s.formValues[name]; ok {
			body.Add(name, typed)
			return
		}
		value, _ := in.Attr("value")
		body.Add(name, value)
	})
	// typed fields that matched no declared input still travel
	for _, name := range s.formNames {
		if !added[name] {
			body.Add(name, s.formValues[name])
		}
	}

	req, err := fhttp.NewRequest("POST", target, bytes.NewBufferString(body.Encode(orderedform.PlaintextEncoder)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	referer := ""
	if s.currentURL != nil {
		referer = s.currentURL.String()
	}
	return s.do(req, referer)
}

func (s *Session) resolve(href string) string {
	if s.currentURL == nil {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	return s.currentURL.ResolveReference(u).String()
}
