package webhook

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Strob0t/ForgeTrack/internal/domain/connection"
)

// Event header names per provider.
const (
	HeaderGitHubEvent    = "X-GitHub-Event"
	HeaderGitLabEvent    = "X-Gitlab-Event"
	HeaderBitbucketEvent = "X-Event-Key"
)

type namedParser struct {
	event string
	parse func([]byte) (Payload, error)
}

func adapt[T Payload](fn func([]byte) (T, error)) func([]byte) (Payload, error) {
	return func(data []byte) (Payload, error) {
		v, err := fn(data)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

// parsers lists each provider's parsers in fallback order. event is matched
// against the provider's event header.
var parsers = map[connection.Service][]namedParser{
	connection.ServiceGitHub: {
		{"pull_request", adapt(ParseGitHubPullRequest)},
		{"create", adapt(ParseGitHubBranchCreated)},
		{"push", adapt(ParseGitHubPush)},
	},
	connection.ServiceGitLab: {
		{"Merge Request Hook", adapt(ParseGitLabMergeRequest)},
		{"Push Hook", adapt(ParseGitLabPush)},
	},
	connection.ServiceBitbucket: {
		{"pullrequest:", adapt(ParseBitbucketPullRequest)},
		{"repo:push", adapt(ParseBitbucketPush)},
	},
}

// EventHeader returns the provider's event-type header value.
func EventHeader(svc connection.Service, h http.Header) string {
	switch svc {
	case connection.ServiceGitHub:
		return h.Get(HeaderGitHubEvent)
	case connection.ServiceGitLab:
		return h.Get(HeaderGitLabEvent)
	case connection.ServiceBitbucket:
		return h.Get(HeaderBitbucketEvent)
	default:
		return ""
	}
}

// Parse turns a Git provider webhook body into a typed Payload. The parser
// named by event is tried first; when event is empty or its parser rejects
// the body, every parser of the provider is tried in order. Events without a
// parser and bodies no parser accepts yield ErrUnrecognizedShape.
func Parse(svc connection.Service, event string, body []byte) (Payload, error) {
	list, ok := parsers[svc]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a git provider", ErrUnrecognizedShape, svc)
	}

	tried := -1
	for i, np := range list {
		if !eventMatches(np.event, event) {
			continue
		}
		tried = i
		p, err := np.parse(body)
		if err == nil {
			return withEvent(p, event), nil
		}
		if !errors.Is(err, ErrUnrecognizedShape) {
			return nil, err
		}
		break
	}
	if event != "" && tried < 0 {
		// A named event with no parser (ping, issues, reviews) is not ours.
		return nil, fmt.Errorf("%w: %s event %q", ErrUnrecognizedShape, svc, event)
	}

	for i, np := range list {
		if i == tried {
			continue
		}
		p, err := np.parse(body)
		if err == nil {
			return withEvent(p, event), nil
		}
	}
	return nil, fmt.Errorf("%w: %s event %q", ErrUnrecognizedShape, svc, event)
}

func eventMatches(pattern, event string) bool {
	if event == "" {
		return false
	}
	if strings.HasSuffix(pattern, ":") {
		return strings.HasPrefix(event, pattern)
	}
	return pattern == event
}

// withEvent records header-only information on variants that need it.
func withEvent(p Payload, event string) Payload {
	if bp, ok := p.(*BitbucketPullRequest); ok {
		bp.EventKey = event
	}
	return p
}
