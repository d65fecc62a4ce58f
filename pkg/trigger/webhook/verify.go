package webhook

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // SurveyMonkey's legacy signature scheme is SHA-1
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// FailureReason classifies why signature verification rejected a delivery
// (spec §4.4.1's VerificationFailure).
type FailureReason string

const (
	ReasonProviderNotRegistered  FailureReason = "PROVIDER_NOT_REGISTERED"
	ReasonMissingSecret          FailureReason = "MISSING_SECRET"
	ReasonMissingSignature       FailureReason = "MISSING_SIGNATURE"
	ReasonMissingTimestamp       FailureReason = "MISSING_TIMESTAMP"
	ReasonInvalidSignatureFormat FailureReason = "INVALID_SIGNATURE_FORMAT"
	ReasonSignatureMismatch      FailureReason = "SIGNATURE_MISMATCH"
	ReasonTimestampOutOfRange    FailureReason = "TIMESTAMP_OUT_OF_TOLERANCE"
	ReasonInternalError          FailureReason = "INTERNAL_ERROR"
	ReasonUnknown                FailureReason = "UNKNOWN"
)

// VerificationFailure is returned by Verify when a delivery is rejected.
type VerificationFailure struct {
	Reason   FailureReason
	Provider string
	Detail   string
}

func (f *VerificationFailure) Error() string {
	return fmt.Sprintf("webhook: %s verification failed (%s): %s", f.Provider, f.Reason, f.Detail)
}

const defaultClockSkew = 5 * time.Minute

// verifier checks one provider's signature scheme against a request.
type verifier func(secret string, r *http.Request, body []byte) *VerificationFailure

// providers is the signature-verification dispatch table (spec §4.4.1):
// one entry per supported app, each wired to whatever header scheme that
// app actually uses. generic is the fallback for apps with none of the
// above.
var providers = map[string]verifier{
	"slack":        timestampedHMAC("slack", "X-Slack-Signature", "X-Slack-Request-Timestamp", "v0=", sha256.New, encodingHex, slackPayload),
	"stripe":       compositeHMAC("stripe", "Stripe-Signature", sha256.New),
	"shopify":      simpleHMAC("shopify", "X-Shopify-Hmac-Sha256", "", sha256.New, encodingBase64),
	"github":       simpleHMAC("github", "X-Hub-Signature-256", "sha256=", sha256.New, encodingHex),
	"hubspot":      timestampedHMAC("hubspot", "X-HubSpot-Signature", "X-HubSpot-Request-Timestamp", "", sha256.New, encodingHex, hubspotPayload),
	"square":       simpleHMAC("square", "X-Square-Hmacsha256-Signature", "", sha256.New, encodingBase64),
	"bigcommerce":  simpleHMAC("bigcommerce", "X-Bc-Webhook-Signature", "", sha256.New, encodingHex),
	"calendly":     compositeHMAC("calendly", "Calendly-Webhook-Signature", sha256.New),
	"iterable":     simpleHMAC("iterable", "X-Iterable-Signature", "", sha256.New, encodingHex),
	"braze":        simpleHMAC("braze", "X-Braze-Signature", "", sha256.New, encodingHex),
	"docusign":     simpleHMAC("docusign", "X-Docusign-Signature-1", "", sha256.New, encodingBase64),
	"adobesign":    tokenCompare("adobesign", "X-AdobeSign-ClientId"),
	"hellosign":    simpleHMAC("hellosign", "X-Hellosign-Signature", "", sha256.New, encodingHex),
	"calcom":       simpleHMAC("calcom", "X-Cal-Signature-256", "", sha256.New, encodingHex),
	"webex":        simpleHMAC("webex", "X-Spark-Signature", "", sha256.New, encodingHex),
	"marketo":      simpleHMAC("marketo", "X-Marketo-Signature", "", sha256.New, encodingHex),
	"surveymonkey": simpleHMAC("surveymonkey", "X-Surveymonkey-Signature", "", sha1.New, encodingBase64), //nolint:gosec
	"gitlab":       tokenCompare("gitlab", "X-Gitlab-Token"),
	"jira":         tokenCompare("jira", "X-Automation-Webhook-Token"),
	"ringcentral":  tokenCompare("ringcentral", "Validation-Token"),
	"generic":      simpleHMAC("generic", "X-Webhook-Signature", "sha256=", sha256.New, encodingHex),
}

// Verify checks an inbound delivery's signature against the scheme
// registered for provider, returning a *VerificationFailure (never a bare
// error) on rejection so handlers can report spec §4.4.1's reason enum.
func Verify(provider, secret string, r *http.Request, body []byte) *VerificationFailure {
	v, ok := providers[strings.ToLower(provider)]
	if !ok {
		return &VerificationFailure{Reason: ReasonProviderNotRegistered, Provider: provider, Detail: "no signature scheme registered"}
	}
	if secret == "" {
		return nil // unsigned trigger registration (dev mode); caller decides whether to allow it
	}
	return v(secret, r, body)
}

type encoding int

const (
	encodingHex encoding = iota
	encodingBase64
)

func decodeSignature(enc encoding, s string) ([]byte, error) {
	switch enc {
	case encodingBase64:
		return base64.StdEncoding.DecodeString(s)
	default:
		return hex.DecodeString(s)
	}
}

// compareSignatures decodes both sides of a signature comparison and
// distinguishes a malformed given signature (ReasonInvalidSignatureFormat)
// from one that decodes cleanly but doesn't match (ReasonSignatureMismatch).
func compareSignatures(provider string, enc encoding, expected, given string) *VerificationFailure {
	expectedBytes, err := decodeSignature(enc, expected)
	if err != nil {
		return &VerificationFailure{Reason: ReasonInternalError, Provider: provider, Detail: "failed encoding expected signature"}
	}
	givenBytes, err := decodeSignature(enc, given)
	if err != nil {
		return &VerificationFailure{Reason: ReasonInvalidSignatureFormat, Provider: provider, Detail: "malformed signature encoding"}
	}
	if !hmac.Equal(expectedBytes, givenBytes) {
		return &VerificationFailure{Reason: ReasonSignatureMismatch, Provider: provider, Detail: "signature mismatch"}
	}
	return nil
}

// simpleHMAC verifies header = prefix + encode(HMAC(secret, body)).
func simpleHMAC(provider, header, prefix string, alg func() hash.Hash, enc encoding) verifier {
	return func(secret string, r *http.Request, body []byte) *VerificationFailure {
		given := r.Header.Get(header)
		if given == "" {
			return &VerificationFailure{Reason: ReasonMissingSignature, Provider: provider, Detail: "missing " + header}
		}
		given = strings.TrimPrefix(given, prefix)

		mac := hmac.New(alg, []byte(secret))
		mac.Write(body)
		expected := encode(enc, mac.Sum(nil))

		return compareSignatures(provider, enc, expected, given)
	}
}

func encode(enc encoding, b []byte) string {
	if enc == encodingBase64 {
		return base64.StdEncoding.EncodeToString(b)
	}
	return hex.EncodeToString(b)
}

// compositeHMAC verifies Stripe/Calendly-style headers of the form
// "t=<timestamp>,v1=<signature>" against HMAC(secret, "<timestamp>.<body>").
func compositeHMAC(provider, header string, alg func() hash.Hash) verifier {
	return func(secret string, r *http.Request, body []byte) *VerificationFailure {
		raw := r.Header.Get(header)
		if raw == "" {
			return &VerificationFailure{Reason: ReasonMissingSignature, Provider: provider, Detail: "missing " + header}
		}

		var timestamp, signature string
		for _, part := range strings.Split(raw, ",") {
			kv := strings.SplitN(part, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch kv[0] {
			case "t":
				timestamp = kv[1]
			case "v1":
				signature = kv[1]
			}
		}
		if timestamp == "" {
			return &VerificationFailure{Reason: ReasonMissingTimestamp, Provider: provider, Detail: "missing t= component"}
		}
		if signature == "" {
			return &VerificationFailure{Reason: ReasonMissingSignature, Provider: provider, Detail: "missing v1= component"}
		}
		if fail := checkSkew(provider, timestamp); fail != nil {
			return fail
		}

		mac := hmac.New(alg, []byte(secret))
		mac.Write([]byte(timestamp + "." + string(body)))
		expected := hex.EncodeToString(mac.Sum(nil))

		return compareSignatures(provider, encodingHex, expected, signature)
	}
}

type payloadBuilder func(r *http.Request, timestamp string, body []byte) []byte

func slackPayload(_ *http.Request, timestamp string, body []byte) []byte {
	return []byte("v0:" + timestamp + ":" + string(body))
}

// hubspotPayload builds HubSpot's v1/v2 signature base string: the request
// method, host, path, body, and timestamp concatenated with no separator
// (spec §4.4.1).
func hubspotPayload(r *http.Request, timestamp string, body []byte) []byte {
	host := r.Host
	path := r.URL.Path
	var buf strings.Builder
	buf.WriteString(r.Method)
	buf.WriteString(host)
	buf.WriteString(path)
	buf.Write(body)
	buf.WriteString(timestamp)
	return []byte(buf.String())
}

// timestampedHMAC verifies a signature computed over a timestamp-combined
// payload, rejecting deliveries whose timestamp header is missing or
// outside defaultClockSkew of now (replay-window check, spec §4.4.1).
func timestampedHMAC(provider, sigHeader, tsHeader, prefix string, alg func() hash.Hash, enc encoding, build payloadBuilder) verifier {
	return func(secret string, r *http.Request, body []byte) *VerificationFailure {
		given := r.Header.Get(sigHeader)
		if given == "" {
			return &VerificationFailure{Reason: ReasonMissingSignature, Provider: provider, Detail: "missing " + sigHeader}
		}
		given = strings.TrimPrefix(given, prefix)

		timestamp := r.Header.Get(tsHeader)
		if timestamp == "" {
			return &VerificationFailure{Reason: ReasonMissingTimestamp, Provider: provider, Detail: "missing " + tsHeader}
		}
		if fail := checkSkew(provider, timestamp); fail != nil {
			return fail
		}

		mac := hmac.New(alg, []byte(secret))
		mac.Write(build(r, timestamp, body))
		expected := encode(enc, mac.Sum(nil))

		return compareSignatures(provider, enc, expected, given)
	}
}

func checkSkew(provider, timestamp string) *VerificationFailure {
	secs, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return &VerificationFailure{Reason: ReasonMissingTimestamp, Provider: provider, Detail: "unparsable timestamp"}
	}
	ts := time.Unix(secs, 0)
	if delta := time.Since(ts); delta > defaultClockSkew || delta < -defaultClockSkew {
		return &VerificationFailure{Reason: ReasonTimestampOutOfRange, Provider: provider, Detail: "timestamp outside replay window"}
	}
	return nil
}

// tokenCompare verifies a plain shared-secret header (no hashing), used by
// providers whose webhook auth is a static token rather than an HMAC.
func tokenCompare(provider, header string) verifier {
	return func(secret string, r *http.Request, _ []byte) *VerificationFailure {
		given := r.Header.Get(header)
		if given == "" {
			return &VerificationFailure{Reason: ReasonMissingSignature, Provider: provider, Detail: "missing " + header}
		}
		if !hmac.Equal([]byte(secret), []byte(given)) {
			return &VerificationFailure{Reason: ReasonSignatureMismatch, Provider: provider, Detail: "token mismatch"}
		}
		return nil
	}
}
