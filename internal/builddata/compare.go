package builddata

import (
	"net/url"
	"reflect"
	"strings"
)

// Matches reports whether rec is the fingerprint of c. It is pure and does
// not depend on header iteration order.
func Matches(c Configuration, rec *Record) bool {
	if rec == nil {
		return false
	}
	// A header count mismatch alone is enough.
	if len(rec.RequestHeaders) != len(c.RequestHeaders) {
		return false
	}

	if !sameChannel(rec.ReleaseChannel, c.ReleaseChannel) {
		return false
	}

	stored, err := url.Parse(rec.UpdateURL)
	if err != nil || !SameURL(stored, c.UpdateURL) {
		return false
	}

	for k, v := range c.RequestHeaders {
		if sv, ok := rec.RequestHeaders[k]; !ok || sv != v {
			return false
		}
	}
	return true
}

func sameChannel(stored *string, live string) bool {
	if stored == nil {
		return live == ""
	}
	return *stored == live
}

// SameURL compares two URLs structurally, so that differently
// percent-encoded forms of the same address are equal. Encoded delimiters
// stay significant: "/a%2Fb" is one path segment and "a%26b" one query value.
func SameURL(a, b *url.URL) bool {
	if a == nil || b == nil {
		return a == b
	}
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		a.Opaque == b.Opaque &&
		a.User.String() == b.User.String() &&
		strings.EqualFold(a.Host, b.Host) &&
		reflect.DeepEqual(pathSegments(a), pathSegments(b)) &&
		sameQuery(a, b) &&
		a.Fragment == b.Fragment
}

// pathSegments splits the escaped path on "/" before decoding each segment.
func pathSegments(u *url.URL) []string {
	segs := strings.Split(u.EscapedPath(), "/")
	for i, seg := range segs {
		if dec, err := url.PathUnescape(seg); err == nil {
			segs[i] = dec
		}
	}
	return segs
}

func sameQuery(a, b *url.URL) bool {
	qa, errA := url.ParseQuery(a.RawQuery)
	qb, errB := url.ParseQuery(b.RawQuery)
	if errA != nil || errB != nil {
		return a.RawQuery == b.RawQuery
	}
	return reflect.DeepEqual(qa, qb)
}
