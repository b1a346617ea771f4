// Package privacy implements the PII Scanner: pattern-based detection and
// replacement of sensitive substrings within a single string.
//
// Detection runs as an ordered pass over a fixed list of privacy patterns.
// Preservation patterns (UUID, URL) run first and mark their spans immune to
// everything that follows by swapping them for placeholder tokens that are
// restored once every other pattern has run. The remaining patterns then run
// in order — scalar PII (email, fødselsnummer, phone, navident, IP, account,
// org-number, license-plate, filepath), then heuristic patterns (name,
// secret-address, address), then URL query parameters — each replacing every
// non-overlapping match with a `[LABEL]` token.
//
// The pattern list is compiled once at package init and is immutable for the
// life of the process. Scanning never fails at runtime: a string with no
// matches is returned unchanged.
package privacy

import (
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
)

// Label names, wire-visible per the proxy's substitution contract.
const (
	LabelGeneric       = "PROXY"
	LabelFnr           = "PROXY-FNR"
	LabelNavident      = "PROXY-NAVIDENT"
	LabelEmail         = "PROXY-EMAIL"
	LabelIP            = "PROXY-IP"
	LabelPhone         = "PROXY-PHONE"
	LabelName          = "PROXY-NAME"
	LabelAddress       = "PROXY-ADDRESS"
	LabelSecretAddress = "PROXY-SECRET-ADDRESS"
	LabelAccount       = "PROXY-ACCOUNT"
	LabelOrgNumber     = "PROXY-ORG-NUMBER"
	LabelLicensePlate  = "PROXY-LICENSE-PLATE"
	LabelSearch        = "PROXY-SEARCH"
	LabelFilepath      = "PROXY-FILEPATH"
)

// Pattern names used as keys into the excluded-label set passed to Scan.
// These are distinct from the wire labels above: a caller excludes a
// *pattern* (e.g. "filepath"), not the text of its label.
const (
	PatternEmail         = "email"
	PatternFnr           = "fnr"
	PatternPhone         = "phone"
	PatternNavident      = "navident"
	PatternIP            = "ip"
	PatternAccount       = "account"
	PatternOrgNumber     = "orgnumber"
	PatternLicensePlate  = "licenseplate"
	PatternFilepath      = "filepath"
	PatternName          = "name"
	PatternSecretAddress = "secretaddress"
	PatternAddress       = "address"
	PatternSearch        = "search"
)

type privacyPattern struct {
	name  string
	label string
	re    *regexp2.Regexp
}

// patterns is the process-wide immutable ordered pattern list.
// Order matters: scalar PII first, then heuristics, then query parameters.
var patterns []privacyPattern

var uuidRe *regexp2.Regexp
var urlRe *regexp2.Regexp

func mustCompile(expr string, opts regexp2.RegexOptions) *regexp2.Regexp {
	re, err := regexp2.Compile(expr, opts)
	if err != nil {
		// Pattern compilation failure is a fatal initialization error —
		// every pattern here is a fixed, hand-audited literal.
		panic("privacy: invalid pattern " + strconv.Quote(expr) + ": " + err.Error())
	}
	return re
}

func init() {
	uuidRe = mustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`, regexp2.None)

	// URL preservation: http(s) URLs and bare domain-like strings with a
	// dotted TLD and a path, excluding matches immediately preceded by '@'
	// (so email domains are left to the email pattern).
	urlRe = mustCompile(`(?<!@)\b(?:https?://[^\s"'<>]+|(?:[A-Za-z0-9][A-Za-z0-9-]*\.)+[A-Za-z]{2,}/[^\s"'<>]*)`, regexp2.None)

	patterns = []privacyPattern{
		{PatternEmail, LabelEmail, mustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, regexp2.None)},
		{PatternFnr, LabelFnr, mustCompile(`(?<!\d)\d{11}(?!\d)`, regexp2.None)},
		{PatternPhone, LabelPhone, mustCompile(`(?<!\d)[2-9]\d{7}(?!\d)`, regexp2.None)},
		{PatternNavident, LabelNavident, mustCompile(`(?<![A-Za-z0-9])[A-Za-z]\d{6}(?![A-Za-z0-9])`, regexp2.None)},
		{PatternIP, LabelIP, mustCompile(`(?<!\d)(?:\d{1,3}\.){3}\d{1,3}(?!\d)`, regexp2.None)},
		{PatternAccount, LabelAccount, mustCompile(`(?<!\d)\d{4}\.?\d{2}\.?\d{5}(?!\d)`, regexp2.None)},
		{PatternOrgNumber, LabelOrgNumber, mustCompile(`(?<!\d)\d{9}(?!\d)`, regexp2.None)},
		{PatternLicensePlate, LabelLicensePlate, mustCompile(`(?<![A-Za-z0-9])[A-Z]{2}\s?\d{5}(?![A-Za-z0-9])`, regexp2.None)},
		{PatternFilepath, LabelFilepath, mustCompile(filepathExpr, regexp2.None)},
		{PatternName, LabelName, mustCompile(`\b[A-ZÆØÅ][a-zæøå]{1,20}\s[A-ZÆØÅ][a-zæøå]{1,20}(?:\s[A-ZÆØÅ][a-zæøå]{1,20})?\b`, regexp2.None)},
		{PatternSecretAddress, LabelSecretAddress, mustCompile(`(?i)hemmelig(?:%20|\s+)(?:20\s*%(?:%20|\s+))?adresse`, regexp2.None)},
		{PatternAddress, LabelAddress, mustCompile(`\b\d{4}\s[A-ZÆØÅ][A-ZÆØÅa-zæøå]+(?:\s[A-ZÆØÅa-zæøå]+)*\b`, regexp2.None)},
		{PatternSearch, LabelSearch, mustCompile(`[?&](?:q|query|search|k|ord)=[^&]+`, regexp2.None)},
	}
}

// filepathExpr matches Windows drive-letter paths, UNC paths, file:// URIs,
// absolute Unix paths (>=2 components, or a single file at root with a
// letter in its extension to distinguish from IP-like tokens), and relative
// paths beginning ./ ../ ~/.
const filepathExpr = `(?:[A-Za-z]:[/\\][^\s"'<>]*` +
	`|\\\\[^\s"'\\<>]+\\[^\s"'<>]*` +
	`|file:///[^\s"'<>]*` +
	`|(?:\./|\.\./|~/)[^\s"'<>]*` +
	`|/[^\s/"'<>]+/[^\s"'<>]*` +
	`|/[^\s/"'<>]+\.[A-Za-z][^\s"'<>]*)`

// replaceAllFunc mirrors regexp.ReplaceAllStringFunc for a regexp2.Regexp,
// since regexp2 has no built-in equivalent.
func replaceAllFunc(re *regexp2.Regexp, s string, f func(string) string) string {
	m, err := re.FindStringMatch(s)
	if err != nil || m == nil {
		return s
	}
	var b strings.Builder
	last := 0
	for m != nil {
		start := m.Index
		end := start + m.Length
		b.WriteString(s[last:start])
		b.WriteString(f(m.String()))
		last = end
		m, err = re.FindNextMatch(m)
		if err != nil {
			break
		}
	}
	b.WriteString(s[last:])
	return b.String()
}

// Scan replaces every non-overlapping match of every enabled pattern in s
// with its `[LABEL]` token. excluded names patterns (by the Pattern*
// constants above) to skip; nil or empty excludes nothing. UUIDs and URLs
// are always preserved verbatim — exclusion never applies to the
// preservation passes themselves.
func Scan(s string, excluded map[string]bool) string {
	if s == "" {
		return s
	}

	var uuids []string
	result := replaceAllFunc(uuidRe, s, func(match string) string {
		idx := len(uuids)
		uuids = append(uuids, match)
		return "__PRESERVED_UUID_" + strconv.Itoa(idx) + "__"
	})

	var urls []string
	result = replaceAllFunc(urlRe, result, func(match string) string {
		idx := len(urls)
		urls = append(urls, match)
		return "__PRESERVED_URL_" + strconv.Itoa(idx) + "__"
	})

	for _, p := range patterns {
		if excluded[p.name] {
			continue
		}
		label := "[" + p.label + "]"
		result = replaceAllFunc(p.re, result, func(string) string { return label })
	}

	for i, orig := range uuids {
		result = strings.ReplaceAll(result, "__PRESERVED_UUID_"+strconv.Itoa(i)+"__", orig)
	}
	for i, orig := range urls {
		result = strings.ReplaceAll(result, "__PRESERVED_URL_"+strconv.Itoa(i)+"__", orig)
	}

	return result
}

// ScanPlain scans s with no excluded patterns.
func ScanPlain(s string) string {
	return Scan(s, nil)
}

// ScanURL implements the URL-field redaction contract: split at the first
// '?', scan the path with filepath detection excluded, scan the query
// string (including the leading '?') without exclusion, and concatenate.
func ScanURL(s string) string {
	path, query, found := strings.Cut(s, "?")
	scannedPath := Scan(path, map[string]bool{PatternFilepath: true})
	if !found {
		return scannedPath
	}
	scannedQuery := ScanPlain("?" + query)
	return scannedPath + scannedQuery
}
