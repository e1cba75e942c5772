package signup

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
)

const sessionCookieName = "WorkosCursorSessionToken"

// authTokenScript pulls the auth record out of the page's IndexedDB
// store; the page keeps the credential there instead of a cookie.
const authTokenScript = `
return new Promise((resolve, reject) => {
	const request = indexedDB.open("firebaseLocalStorageDb");
	request.onerror = () => reject("indexeddb open failed");
	request.onsuccess = (event) => {
		const db = event.target.result;
		const store = db.transaction(["firebaseLocalStorage"], "readonly")
			.objectStore("firebaseLocalStorage");
		const getAll = store.getAll();
		getAll.onerror = () => reject("indexeddb read failed");
		getAll.onsuccess = (event) => {
			const auth = event.target.result.find(item =>
				item.fbase_key.startsWith("firebase:authUser:"));
			if (auth && auth.value) {
				resolve(JSON.stringify({
					accessToken: auth.value.stsTokenManager.accessToken,
					refreshToken: auth.value.stsTokenManager.refreshToken,
				}));
			} else {
				reject("auth record not found");
			}
		};
	};
});
`

// captureCursorToken reads the session cookie set after sign-up. The
// raw value is cached for later account switches; the returned token
// is the segment after the encoded delimiter.
func (f *Flow) captureCursorToken() string {
	for attempt := 1; attempt <= TOKEN_ATTEMPTS; attempt++ {
		for _, cookie := range f.Page.Cookies() {
			if cookie.Name != sessionCookieName {
				continue
			}
			cacheRawToken(cookie.Value)
			parts := strings.Split(cookie.Value, "%3A%3A")
			if len(parts) > 1 {
				return parts[1]
			}
			return cookie.Value
		}
		log.Printf("[%d/%d] session cookie not present yet", attempt, TOKEN_ATTEMPTS)
		if attempt < TOKEN_ATTEMPTS {
			f.sleep(TOKEN_INTERVAL)
		}
	}
	return ""
}

// captureWindsurfToken runs the persistence-store helper script against
// the page context.
func (f *Flow) captureWindsurfToken() string {
	for attempt := 1; attempt <= TOKEN_ATTEMPTS; attempt++ {
		result, err := f.Page.Eval(authTokenScript)
		if err == nil && result != "" {
			var tokens struct {
				AccessToken string `json:"accessToken"`
			}
			if json.Unmarshal([]byte(result), &tokens) == nil && tokens.AccessToken != "" {
				return tokens.AccessToken
			}
		}
		log.Printf("[%d/%d] auth token not readable yet: %v", attempt, TOKEN_ATTEMPTS, err)
		if attempt < TOKEN_ATTEMPTS {
			f.sleep(TOKEN_INTERVAL)
		}
	}
	return ""
}

func cacheRawToken(raw string) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	dir := filepath.Join(home, ".cursor_cache")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(dir, "session_token.txt"), []byte(raw), 0o600); err != nil {
		log.Printf("cache session token: %v", err)
	}
}
