package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/onboard-guide/internal/checkpoint"
	"github.com/ashureev/onboard-guide/internal/databag"
	"github.com/ashureev/onboard-guide/internal/domain"
)

var (
	emailPattern    = regexp.MustCompile(`(?i)[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`)
	phonePattern    = regexp.MustCompile(`\+?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b|\b\d{3}-\d{4}\b`)
	addressPattern  = regexp.MustCompile(`(\d+\s+[^,\n]+),\s*([^,\n]+),\s*([A-Za-z]{2})\s+(\d{5}(?:-\d{4})?)`)
	namePattern     = regexp.MustCompile(`(?i)(?:business(?:\s+name)?\s+is|we(?:'re|\s+are)\s+called|it'?s\s+called|called|named)\s+([^,.!?\n]+)`)
	servicesPattern = regexp.MustCompile(`(?i)(?:services?|we\s+(?:do|offer|provide))\s*(?:are|is|include|:)?\s*:?\s*([^.!?\n]+)`)
	domainPattern   = regexp.MustCompile(`(?i)\b((?:[a-z0-9-]+\.)+[a-z]{2,})\b`)
	wordPattern     = regexp.MustCompile(`[a-z']+`)
	listSeparator   = regexp.MustCompile(`,|\band\b`)
)

var greetingWords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "hiya": true, "howdy": true, "greetings": true,
	"yes": true, "yeah": true, "ready": true, "start": true, "sure": true, "ok": true, "okay": true,
}

var registrars = []struct {
	keyword string
	name    string
}{
	{"godaddy", "GoDaddy"},
	{"namecheap", "Namecheap"},
	{"google domains", "Google Domains"},
	{"squarespace", "Squarespace"},
	{"cloudflare", "Cloudflare"},
	{"bluehost", "Bluehost"},
	{"network solutions", "Network Solutions"},
	{"hostgator", "HostGator"},
	{"ionos", "IONOS"},
	{"wix", "Wix"},
	{"porkbun", "Porkbun"},
}

var fieldQuestions = map[string]string{
	"businessName":  "What is the name of your business?",
	"email":         "What email address should customers use to reach you?",
	"phone":         "What is the best phone number for the business?",
	"address":       "What is the business address (street, city, state and zip)?",
	"services":      "Which services do you offer?",
	"domainName":    "Which domain name do you use, or would like to use?",
	"registrar":     "Where is your domain registered (for example GoDaddy or Namecheap)?",
	"listingStatus": "Do you already have a Google Business Profile listing?",
	"exterior":      "Please upload at least one photo of the outside of your business.",
	"interior":      "Please upload at least one photo of the inside of your business.",
	"logo":          "Please upload your logo.",
	"confirmed":     "Does everything in the summary look right?",
}

// Fallback produces deterministic replies from keyword rules. It is used when
// no provider is configured or the provider call fails, so it must always
// return a well-formed Reply.
type Fallback struct{}

var _ Replier = (*Fallback)(nil)

// NewFallback returns the rule-based responder.
func NewFallback() *Fallback {
	return &Fallback{}
}

// Reply answers userText at checkpoint cp given the current data bag.
func (f *Fallback) Reply(cp domain.Checkpoint, data domain.CheckpointData, userText string) Reply {
	lower := strings.ToLower(strings.TrimSpace(userText))

	switch cp {
	case domain.CheckpointWelcome:
		return f.welcome(lower)
	case domain.CheckpointBusinessInfo:
		return f.collect(cp, data, extractBusinessInfo(userText))
	case domain.CheckpointDomainAccess:
		return f.collect(cp, data, extractDomainAccess(userText, lower))
	case domain.CheckpointGBP:
		return f.collect(cp, data, extractListing(lower))
	case domain.CheckpointPhotos:
		return f.photos(data)
	case domain.CheckpointReview:
		return f.review(lower)
	}
	return Reply{
		Message: "You're all set! Our team will review everything and be in touch shortly.",
	}
}

func (f *Fallback) welcome(lower string) Reply {
	if hasAnyWord(lower, greetingWords) {
		return Reply{
			Message:        "Great to meet you! Let's start with your business. What is the name of your business?",
			ExtractedData:  map[string]any{"greeted": true},
			ReadyToAdvance: true,
		}
	}
	return Reply{
		Message: "Welcome! I'll walk you through a few quick steps: your business details, domain, " +
			"Google listing and photos. Say hi when you're ready to begin.",
	}
}

// collect merges the extracted fields and asks for the first missing one.
func (f *Fallback) collect(cp domain.Checkpoint, data domain.CheckpointData, extracted map[string]any) Reply {
	merged := data
	if len(extracted) > 0 {
		merged = databag.Merge(data, map[string]any{checkpoint.Topic(cp): extracted})
	} else {
		extracted = nil
	}

	missing := checkpoint.MissingFields(cp, merged)
	if len(missing) == 0 {
		return Reply{
			Message:        fmt.Sprintf("Thanks, that covers %s. Let's move on.", checkpoint.Label(cp)),
			ExtractedData:  extracted,
			ReadyToAdvance: true,
		}
	}

	prefix := "Thanks! "
	if extracted == nil {
		prefix = ""
	}
	reply := Reply{
		Message:       prefix + fieldQuestions[missing[0]],
		ExtractedData: extracted,
	}
	if missing[0] == "address" {
		reply.UIAction = &UIAction{Type: "address_form"}
	}
	return reply
}

func (f *Fallback) photos(data domain.CheckpointData) Reply {
	missing := checkpoint.MissingFields(domain.CheckpointPhotos, data)
	if len(missing) == 0 {
		return Reply{Message: "Those photos look great. Let's review everything.", ReadyToAdvance: true}
	}
	categories := make([]any, len(missing))
	for i, m := range missing {
		categories[i] = m
	}
	return Reply{
		Message:  "We still need photos for: " + strings.Join(missing, ", ") + ". Use the uploader to add them.",
		UIAction: &UIAction{Type: "photo_upload", Config: map[string]any{"categories": categories}},
	}
}

func (f *Fallback) review(lower string) Reply {
	switch {
	case containsAny(lower, "change", "edit", "wrong", "fix", "incorrect", "not right"):
		return Reply{
			Message:  "No problem. Which step would you like to change?",
			UIAction: &UIAction{Type: "edit_step"},
		}
	case containsAny(lower, "confirm", "looks good", "correct", "approve", "all good", "perfect") ||
		hasAnyWord(lower, map[string]bool{"yes": true, "yep": true, "yeah": true}):
		return Reply{
			Message:        "Thank you for confirming! We're wrapping up your onboarding now.",
			ExtractedData:  map[string]any{"confirmed": true},
			ReadyToAdvance: true,
		}
	}
	return Reply{
		Message:  "Please review the summary and let me know if everything is correct.",
		UIAction: &UIAction{Type: "summary_card"},
	}
}

func extractBusinessInfo(text string) map[string]any {
	out := map[string]any{}
	if email := emailPattern.FindString(text); email != "" {
		out["email"] = strings.ToLower(email)
	}
	withoutEmail := emailPattern.ReplaceAllString(text, " ")
	if m := addressPattern.FindStringSubmatch(withoutEmail); m != nil {
		out["address"] = map[string]any{
			"street": strings.TrimSpace(m[1]),
			"city":   strings.TrimSpace(m[2]),
			"state":  strings.ToUpper(m[3]),
			"zip":    m[4],
		}
		withoutEmail = strings.Replace(withoutEmail, m[0], " ", 1)
	}
	if phone := phonePattern.FindString(withoutEmail); phone != "" {
		out["phone"] = strings.TrimSpace(phone)
	}
	if m := namePattern.FindStringSubmatch(text); m != nil {
		out["businessName"] = strings.TrimSpace(m[1])
	}
	if m := servicesPattern.FindStringSubmatch(text); m != nil {
		var services []any
		for _, s := range listSeparator.Split(m[1], -1) {
			if s = strings.TrimSpace(s); s != "" {
				services = append(services, s)
			}
		}
		if len(services) > 0 {
			out["services"] = services
		}
	}
	return out
}

func extractDomainAccess(text, lower string) map[string]any {
	out := map[string]any{}
	for _, r := range registrars {
		if strings.Contains(lower, r.keyword) {
			out["registrar"] = r.name
			break
		}
	}
	if containsAny(lower, "no domain", "don't have a domain", "dont have a domain", "need a domain") {
		out["needsNewDomain"] = true
	}
	withoutEmail := emailPattern.ReplaceAllString(text, " ")
	for _, d := range domainPattern.FindAllString(withoutEmail, -1) {
		d = strings.ToLower(d)
		if isRegistrarHost(d) {
			continue
		}
		out["domainName"] = strings.TrimPrefix(d, "www.")
		break
	}
	return out
}

func isRegistrarHost(d string) bool {
	for _, r := range registrars {
		if strings.HasPrefix(d, strings.ReplaceAll(r.keyword, " ", "")+".") {
			return true
		}
	}
	return false
}

func extractListing(lower string) map[string]any {
	switch {
	case lower == "":
		return nil
	case containsAny(lower, "unclaimed", "not claimed", "haven't claimed", "never claimed"):
		return map[string]any{"listingStatus": "unclaimed"}
	case containsAny(lower, "don't have", "dont have", "no listing", "none", "not on google") ||
		hasAnyWord(lower, map[string]bool{"no": true, "nope": true}):
		return map[string]any{"listingStatus": "none"}
	case containsAny(lower, "claimed", "we have", "i have", "already have") ||
		hasAnyWord(lower, map[string]bool{"yes": true, "yep": true, "yeah": true}):
		return map[string]any{"listingStatus": "claimed"}
	}
	return nil
}

func hasAnyWord(lower string, words map[string]bool) bool {
	for _, w := range wordPattern.FindAllString(lower, -1) {
		if words[w] {
			return true
		}
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
