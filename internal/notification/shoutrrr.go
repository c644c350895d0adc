package notification

import (
	"context"
	"io"
	"log"
	"regexp"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/dermascan/dermascan/internal/errors"
)

// serviceURLPattern matches shoutrrr URLs, whose user info and path carry tokens.
var serviceURLPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^\s"']+`)

// ShoutrrrProvider sends via nicholas-fedor/shoutrrr.
// A single router serves every configured URL.
type ShoutrrrProvider struct {
	name   string
	urls   []string
	sender *router.ServiceRouter
}

// NewShoutrrrProvider builds the router and validates every URL.
func NewShoutrrrProvider(urls []string, timeout time.Duration) (*ShoutrrrProvider, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, errors.New(scrubError(err)).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("operation", "create-sender").
			Build()
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))

	return &ShoutrrrProvider{
		name:   "shoutrrr",
		urls:   slices.Clone(urls),
		sender: sender,
	}, nil
}

func (s *ShoutrrrProvider) Name() string { return s.name }

// Send delivers to every URL. The router applies its own timeout.
func (s *ShoutrrrProvider) Send(ctx context.Context, n *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}
	for _, e := range s.sender.Send(n.Message, &params) {
		if e != nil {
			return scrubError(e)
		}
	}
	return nil
}

// scrubError removes service URLs, which embed credentials, from an error message.
func scrubError(err error) error {
	if err == nil {
		return nil
	}
	return errors.NewStd(scrubURLs(err.Error()))
}

func scrubURLs(s string) string {
	return serviceURLPattern.ReplaceAllStringFunc(s, func(u string) string {
		scheme, _, _ := strings.Cut(u, "://")
		return scheme + "://[redacted]"
	})
}
