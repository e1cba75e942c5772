package mailbox

import (
	"context"
	"io"
	"log"
	"math/rand"
	"mime"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
)

// ImapSettings configures the user-supplied mailbox used instead of a
// temp-mail provider.
type ImapSettings struct {
	Server string // host:port, IMAPS
	User   string
	Pass   string
	Folder string // usually INBOX
	Sender string // verification mail sender to filter on
}

// Imap reuses one real mailbox for many sign-ups by varying the
// local part of the address; providers deliver all variants to the
// same inbox.
type Imap struct {
	settings ImapSettings
}

func NewImap(settings ImapSettings) *Imap {
	if settings.Folder == "" {
		settings.Folder = "INBOX"
	}
	return &Imap{settings: settings}
}

// CreateAddress synthesizes a variant of the configured address. Gmail
// users sometimes get the googlemail.com alias, other domains get
// random dots inserted into the local part. No provider token exists
// in this mode.
func (m *Imap) CreateAddress() (string, string, error) {
	local, domain, _ := strings.Cut(m.settings.User, "@")
	if domain == "gmail.com" {
		if rand.Float32() < 0.5 {
			domain = "googlemail.com"
		}
		return local + "@" + domain, "", nil
	}
	return dotVariant(local) + "@" + domain, "", nil
}

func dotVariant(local string) string {
	if len(local) < 2 {
		return local
	}
	positions := rand.Perm(len(local) - 1)[:1+rand.Intn(len(local)-1)]
	sort.Sort(sort.Reverse(sort.IntSlice(positions)))
	for _, p := range positions {
		local = local[:p+1] + "." + local[p+1:]
	}
	return local
}

func (m *Imap) PollForCode(ctx context.Context, email string, maxAttempts int, delay time.Duration) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}
		code, err := m.fetchCode()
		if err != nil {
			log.Printf("[%d/%d] imap: %v", attempt+1, maxAttempts, err)
			continue
		}
		if code != "" {
			return code, nil
		}
	}
	return "", nil
}

// fetchCode reads the newest unseen verification mail received within
// the last minute, extracts the code and consumes the message so it
// cannot be reused.
func (m *Imap) fetchCode() (string, error) {
	options := &imapclient.Options{
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	}
	c, err := imapclient.DialTLS(m.settings.Server, options)
	if err != nil {
		return "", err
	}
	defer c.Logout()

	if err := c.Login(m.settings.User, m.settings.Pass).Wait(); err != nil {
		return "", err
	}
	if _, err := c.Select(m.settings.Folder, nil).Wait(); err != nil {
		return "", err
	}

	criteria := &imap.SearchCriteria{
		Since:   time.Now().Add(-1 * time.Minute),
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	if m.settings.Sender != "" {
		criteria.Header = []imap.SearchCriteriaHeaderField{
			{Key: "From", Value: m.settings.Sender},
		}
	}
	result, err := c.Search(criteria, nil).Wait()
	if err != nil {
		return "", err
	}
	seqNums := result.AllSeqNums()
	if len(seqNums) == 0 {
		return "", nil
	}
	latest := seqNums[len(seqNums)-1]
	seqSet := imap.SeqSetNum(latest)

	fetched, err := c.Fetch(seqSet, &imap.FetchOptions{
		Envelope: true,
		BodySection: []*imap.FetchItemBodySection{
			{}, // full message for multipart decoding
		},
	}).Collect()
	if err != nil {
		return "", err
	}
	if len(fetched) == 0 {
		return "", nil
	}
	var raw []byte
	for _, section := range fetched[0].BodySection {
		raw = section
		break
	}

	code := findCode(decodeBody(raw))
	if code == "" {
		return "", nil
	}

	// Consume the message: delete and expunge so the code is single-use.
	store := c.Store(seqSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Flags:  []imap.Flag{imap.FlagDeleted},
		Silent: true,
	}, nil)
	if err := store.Close(); err != nil {
		log.Printf("imap: mark deleted: %v", err)
	}
	if _, err := c.Expunge().Collect(); err != nil {
		log.Printf("imap: expunge: %v", err)
	}
	return code, nil
}

// decodeBody walks a possibly-multipart message and concatenates its
// text parts.
func decodeBody(raw []byte) string {
	entity, err := message.Read(strings.NewReader(string(raw)))
	if err != nil {
		return string(raw)
	}
	var out strings.Builder
	collectText(entity, &out)
	if out.Len() == 0 {
		return string(raw)
	}
	return out.String()
}

func collectText(entity *message.Entity, out *strings.Builder) {
	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err != nil {
				return
			}
			collectText(part, out)
		}
	}
	mediaType, _, _ := entity.Header.ContentType()
	if mediaType == "" || strings.HasPrefix(mediaType, "text/") {
		body, err := io.ReadAll(entity.Body)
		if err == nil {
			out.Write(body)
			out.WriteByte('\n')
		}
	}
}
