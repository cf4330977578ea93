package crawler

import (
	"context"
	"net/url"

	"github.com/temoto/robotstxt"

	"github.com/amosWeiskopf/tracksmith/pkg/fetch"
)

const (
	defaultRobotsAgent = "tracksmith"
	maxRobotsBytes     = 512 << 10
)

// robotsGate answers whether linked pages may be visited. Only a robots.txt
// served with a 2xx status is obeyed; a missing file, a server error, a
// network failure or an unparsable body allows everything.
type robotsGate struct {
	data  *robotstxt.RobotsData
	agent string
}

func loadRobots(ctx context.Context, f fetch.Fetcher, baseDomain, agent string) *robotsGate {
	if agent == "" {
		agent = defaultRobotsAgent
	}
	gate := &robotsGate{agent: agent}

	resp, err := f.Fetch(ctx, fetch.Request{URL: baseDomain + "/robots.txt", Accept: "text/plain, */*"})
	if err != nil {
		return gate
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return gate
	}

	body, err := fetch.ReadLimited(resp.Body, maxRobotsBytes)
	if err != nil {
		return gate
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return gate
	}
	gate.data = data
	return gate
}

func (g *robotsGate) Allowed(pageURL string) bool {
	if g == nil || g.data == nil {
		return true
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return true
	}
	return g.data.TestAgent(u.RequestURI(), g.agent)
}
