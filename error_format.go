package auth

import (
	"errors"
	"sort"
	"strings"
)

// FallbackMessage is shown for failures that carry no usable message
const FallbackMessage = "Ndodhi një gabim i papritur. Ju lutemi provoni përsëri."

// AlbanianMessages maps backend and module error messages to the text
// shown to users.
var AlbanianMessages = map[string]string{
	MsgInvalidCredentials:            "Email ose fjalëkalimi i pavlefshëm.",
	MsgEmailNotConfirmed:             "Ju lutemi konfirmoni email-in tuaj përpara se të hyni.",
	MsgUserAlreadyRegistered:         "Ky email është i regjistruar tashmë.",
	MsgWeakPassword:                  "Fjalëkalimi duhet të ketë të paktën 6 karaktere.",
	ErrDisplayNameTaken.Message:      "Ky emër përdoruesi është i zënë tashmë.",
	ErrInvalidSignUp.Message:         "Ju lutemi plotësoni të gjitha fushat e kërkuara.",
	ErrNotAuthenticated.Message:      "Ju duhet të identifikoheni për të vazhduar.",
	ErrProfileFetchFailed.Message:    "Profili nuk mund të ngarkohej. Ju lutemi provoni përsëri.",
	ErrProfileCreationFailed.Message: "Profili nuk mund të krijohej. Ju lutemi provoni përsëri.",
	ErrProfileUpdateFailed.Message:   "Profili nuk mund të përditësohej. Ju lutemi provoni përsëri.",
	ErrNoSession.Message:             "Seanca nuk mund të krijohej. Ju lutemi provoni përsëri.",
}

type catalogEntry struct {
	match   string
	message string
}

// ErrorFormatter turns error values into user facing messages.
type ErrorFormatter struct {
	entries  []catalogEntry
	fallback string
}

// NewErrorFormatter creates a formatter for the given catalog. Catalog keys
// are matched as substrings of the error messages in the unwrap chain.
func NewErrorFormatter(catalog map[string]string, fallback string) *ErrorFormatter {
	if fallback == "" {
		fallback = FallbackMessage
	}

	entries := make([]catalogEntry, 0, len(catalog))
	for k, v := range catalog {
		if k == "" {
			continue
		}
		entries = append(entries, catalogEntry{match: k, message: v})
	}

	// longest match first so overlapping keys resolve deterministically
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].match) == len(entries[j].match) {
			return entries[i].match < entries[j].match
		}
		return len(entries[i].match) > len(entries[j].match)
	})

	return &ErrorFormatter{entries: entries, fallback: fallback}
}

// Format never panics and always returns a non empty message.
func (f *ErrorFormatter) Format(v any) string {
	if f == nil {
		return defaultFormatter.Format(v)
	}

	err, ok := v.(error)
	if !ok || err == nil {
		return f.fallback
	}

	var rejected *AuthRejectedError
	if errors.As(err, &rejected) && rejected.Message != "" {
		return rejected.Message
	}

	if msg, found := f.lookup(err); found {
		return msg
	}

	if msg := safeMessage(err); msg != "" {
		return msg
	}

	return f.fallback
}

func (f *ErrorFormatter) lookup(err error) (string, bool) {
	for _, text := range chainMessages(err) {
		for _, entry := range f.entries {
			if strings.Contains(text, entry.match) {
				return entry.message, true
			}
		}
	}
	return "", false
}

func chainMessages(err error) []string {
	var out []string
	queue := []error{err}
	for len(queue) > 0 && len(out) < 32 {
		current := queue[0]
		queue = queue[1:]
		if current == nil {
			continue
		}
		if msg := safeMessage(current); msg != "" {
			out = append(out, msg)
		}
		switch x := current.(type) {
		case interface{ Unwrap() []error }:
			queue = append(queue, x.Unwrap()...)
		case interface{ Unwrap() error }:
			queue = append(queue, x.Unwrap())
		}
	}
	return out
}

func safeMessage(err error) (msg string) {
	defer func() {
		if recover() != nil {
			msg = ""
		}
	}()
	return strings.TrimSpace(err.Error())
}

var defaultFormatter = NewErrorFormatter(AlbanianMessages, FallbackMessage)

// FormatAuthError maps err to the Albanian message shown to users.
// Unknown errors pass through their message; non error values yield
// FallbackMessage.
func FormatAuthError(v any) string {
	return defaultFormatter.Format(v)
}
