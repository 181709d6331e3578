package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"testing"
	"time"
)

const testBotToken = "123456:TEST-bot-token"

var authDate = time.Unix(1700000000, 0).UTC()

func newVerifier(t *testing.T, scheme Scheme) *Verifier {
	t.Helper()
	v, err := NewVerifier(testBotToken, scheme, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func signed(v *Verifier, fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields)+1)
	for k, val := range fields {
		out[k] = val
	}
	out["hash"] = v.Sign(fields)
	return out
}

func TestVerify_WidgetPayload(t *testing.T) {
	v := newVerifier(t, SchemeWidget)
	fields := signed(v, map[string]string{
		"id":         "42",
		"first_name": "Ada",
		"username":   "ada",
		"auth_date":  "1700000000",
	})

	res, err := v.Verify(fields, authDate.Add(time.Hour))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.User.ID != "42" {
		t.Errorf("User.ID = %q, want 42", res.User.ID)
	}
	if res.User.FirstName != "Ada" || res.User.Username != "ada" {
		t.Errorf("display metadata not extracted: %+v", res.User)
	}
	if !res.AuthDate.Equal(authDate) {
		t.Errorf("AuthDate = %v, want %v", res.AuthDate, authDate)
	}
	if _, ok := fields["hash"]; !ok {
		t.Error("Verify must not modify the caller's map")
	}
}

// The widget key is SHA-256(bot token); compute the tag independently of Sign.
func TestVerify_WidgetKeyDerivation(t *testing.T) {
	v := newVerifier(t, SchemeWidget)
	key := sha256.Sum256([]byte(testBotToken))
	mac := hmac.New(sha256.New, key[:])
	mac.Write([]byte("auth_date=1700000000\nid=42"))
	fields := map[string]string{
		"id":        "42",
		"auth_date": "1700000000",
		"hash":      hex.EncodeToString(mac.Sum(nil)),
	}
	if _, err := v.Verify(fields, authDate); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

// The Mini App key is HMAC-SHA-256 keyed by "WebAppData" over the bot token.
func TestVerify_WebAppInitData(t *testing.T) {
	v := newVerifier(t, SchemeWebApp)

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(testBotToken))
	user := `{"id":42,"first_name":"Ada","language_code":"en","is_premium":true}`
	const sig = "6fbdaab5f5fd3bd5a2d1b0f3e2c4a9a1c5d7e9f0a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f9"
	check := "auth_date=1700000000\nquery_id=AAH\nsignature=" + sig + "\nuser=" + user
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(check))

	q := url.Values{}
	q.Set("query_id", "AAH")
	q.Set("user", user)
	q.Set("auth_date", "1700000000")
	q.Set("signature", sig)
	q.Set("hash", hex.EncodeToString(mac.Sum(nil)))

	fields, err := ParseInitData(q.Encode())
	if err != nil {
		t.Fatalf("ParseInitData: %v", err)
	}
	res, err := v.Verify(fields, authDate.Add(time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.User.ID != "42" || res.User.LanguageCode != "en" || !res.User.IsPremium {
		t.Errorf("User = %+v", res.User)
	}
}

func TestVerify_SchemesAreNotInterchangeable(t *testing.T) {
	widget := newVerifier(t, SchemeWidget)
	webapp := newVerifier(t, SchemeWebApp)
	fields := signed(widget, map[string]string{"id": "42", "auth_date": "1700000000"})
	if _, err := webapp.Verify(fields, authDate); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("widget-signed payload under webapp scheme: got %v", err)
	}
}

func TestVerify_TamperedTag(t *testing.T) {
	v := newVerifier(t, SchemeWidget)
	base := map[string]string{"id": "42", "auth_date": "1700000000"}
	good := v.Sign(base)

	flip := []byte(good)
	if flip[len(flip)-1] == '0' {
		flip[len(flip)-1] = '1'
	} else {
		flip[len(flip)-1] = '0'
	}

	testCases := []struct {
		name string
		hash string
	}{
		{"flipped nibble", string(flip)},
		{"truncated", good[:32]},
		{"not hex", "zz" + good[2:]},
		{"other token", func() string {
			other, _ := NewVerifier("999:other", SchemeWidget, time.Hour)
			return other.Sign(base)
		}()},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fields := map[string]string{"id": "42", "auth_date": "1700000000", "hash": tc.hash}
			_, err := v.Verify(fields, authDate)
			if !errors.Is(err, ErrInvalidSignature) {
				t.Errorf("want ErrInvalidSignature, got %v", err)
			}
			if !errors.Is(err, ErrVerification) {
				t.Errorf("error must wrap ErrVerification, got %v", err)
			}
		})
	}
}

func TestVerify_TamperedField(t *testing.T) {
	v := newVerifier(t, SchemeWidget)
	fields := signed(v, map[string]string{"id": "42", "auth_date": "1700000000"})
	fields["id"] = "43"
	if _, err := v.Verify(fields, authDate); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("want ErrInvalidSignature, got %v", err)
	}
}

func TestVerify_Freshness(t *testing.T) {
	v := newVerifier(t, SchemeWidget)
	fields := signed(v, map[string]string{"id": "42", "auth_date": "1700000000"})

	testCases := []struct {
		name    string
		now     time.Time
		wantErr error
	}{
		{"just issued", authDate, nil},
		{"inside window", authDate.Add(24*time.Hour - time.Second), nil},
		{"past window", authDate.Add(24*time.Hour + time.Second), ErrStalePayload},
		{"far future auth_date", authDate.Add(-time.Hour), ErrStalePayload},
		{"small clock skew", authDate.Add(-30 * time.Second), nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(fields, tc.now)
			if tc.wantErr == nil && err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("want %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestVerify_Malformed(t *testing.T) {
	v := newVerifier(t, SchemeWidget)
	testCases := []struct {
		name   string
		fields map[string]string
	}{
		{"no hash", map[string]string{"id": "42", "auth_date": "1700000000"}},
		{"no auth_date", signed(v, map[string]string{"id": "42"})},
		{"non-numeric auth_date", signed(v, map[string]string{"id": "42", "auth_date": "yesterday"})},
		{"no id", signed(v, map[string]string{"auth_date": "1700000000"})},
		{"non-numeric id", signed(v, map[string]string{"id": "abc", "auth_date": "1700000000"})},
		{"bad user json", signed(v, map[string]string{"user": "{", "auth_date": "1700000000"})},
		{"negative id", signed(v, map[string]string{"id": "-1", "auth_date": "1700000000"})},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Verify(tc.fields, authDate); !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("want ErrMalformedPayload, got %v", err)
			}
		})
	}
}

func TestDataCheckString(t *testing.T) {
	got := DataCheckString(map[string]string{
		"hash":       "x",
		"signature":  "y",
		"username":   "ada",
		"auth_date":  "1",
		"first_name": "Ada",
	})
	want := "auth_date=1\nfirst_name=Ada\nsignature=y\nusername=ada"
	if got != want {
		t.Errorf("DataCheckString = %q, want %q", got, want)
	}
}

func TestParseInitData_Malformed(t *testing.T) {
	for _, s := range []string{"a=1&a=2", "%zz"} {
		if _, err := ParseInitData(s); !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("ParseInitData(%q): want ErrMalformedPayload, got %v", s, err)
		}
	}
}

func TestNewVerifier_Validation(t *testing.T) {
	if _, err := NewVerifier("", SchemeWebApp, time.Hour); err == nil {
		t.Error("empty bot token should fail")
	}
	if _, err := NewVerifier(testBotToken, Scheme("oauth"), time.Hour); err == nil {
		t.Error("unknown scheme should fail")
	}
}

func TestVerify_SignatureFieldIsCovered(t *testing.T) {
	v := newVerifier(t, SchemeWebApp)
	fields := signed(v, map[string]string{
		"auth_date": "1700000000",
		"user":      `{"id":42}`,
		"signature": "c2lnbmF0dXJlLWJ5LXRlbGVncmFt",
	})
	if _, err := v.Verify(fields, authDate); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	fields["signature"] = "b3RoZXItc2lnbmF0dXJl"
	if _, err := v.Verify(fields, authDate); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("changed signature field: want ErrInvalidSignature, got %v", err)
	}
}
