package unfurl

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
)

// maxBodyBytes bounds how much of a page gets fetched for metadata. The
// interesting tags live in <head>, well within this.
const maxBodyBytes = 1 << 20

// Metadata is the bookmark preview extracted from a page.
type Metadata struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Favicon     string `json:"favicon,omitempty"`
}

// Handler serves GET /unfurl?url=... by fetching the page and extracting
// title, description, Open Graph fields and the favicon.
func Handler(client *http.Client) http.HandlerFunc {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("url")
		if raw == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "url query parameter is required"})
			return
		}

		target, err := url.Parse(raw)
		if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "url must be absolute http or https"})
			return
		}

		meta, err := fetch(r, client, target)
		if err != nil {
			logrus.WithError(err).WithField("url", target.String()).Warn("Unfurl failed")
			render.Status(r, http.StatusBadGateway)
			render.JSON(w, r, map[string]string{"error": "failed to fetch url"})
			return
		}

		render.JSON(w, r, meta)
	}
}

func fetch(r *http.Request, client *http.Client, target *url.URL) (*Metadata, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "drawsync-unfurl/1.0")
	req.Header.Set("Accept", "text/html")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	meta := &Metadata{URL: target.String()}
	if err := extract(io.LimitReader(resp.Body, maxBodyBytes), target, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// extract walks the parsed document once, preferring Open Graph values over
// plain HTML ones.
func extract(body io.Reader, base *url.URL, meta *Metadata) error {
	doc, err := html.Parse(body)
	if err != nil {
		return err
	}

	var plainTitle, ogTitle, plainDesc, ogDesc string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if n.FirstChild != nil && plainTitle == "" {
					plainTitle = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				key := attr(n, "property")
				if key == "" {
					key = attr(n, "name")
				}
				content := attr(n, "content")
				switch key {
				case "og:title":
					ogTitle = content
				case "og:description":
					ogDesc = content
				case "description":
					plainDesc = content
				case "og:image":
					meta.Image = resolve(base, content)
				}
			case "link":
				rel := strings.ToLower(attr(n, "rel"))
				if strings.Contains(rel, "icon") && meta.Favicon == "" {
					meta.Favicon = resolve(base, attr(n, "href"))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	meta.Title = ogTitle
	if meta.Title == "" {
		meta.Title = plainTitle
	}
	meta.Description = ogDesc
	if meta.Description == "" {
		meta.Description = plainDesc
	}
	if meta.Favicon == "" {
		meta.Favicon = resolve(base, "/favicon.ico")
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}
