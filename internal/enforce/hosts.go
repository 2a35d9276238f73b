// Package enforce applies a focus mode to the machine while a session runs:
// it rewrites the hosts file to sink blocked domains and terminates blocked
// applications. Everything is undone when the session ends.
package enforce

import (
	"fmt"
	"os"
	"strings"
)

// Markers delimit the focusd-managed region of the hosts file. Apply and
// Release only ever touch the text between them.
const (
	blockStartMarker = "# focusd block start"
	blockEndMarker   = "# focusd block end"
)

const sinkAddr = "127.0.0.1"

// commonSubdomains are prepended to every blocked domain.
var commonSubdomains = []string{
	"www", "m", "mobile", "touch", "app", "apps", "api", "cdn", "static", "assets",
}

// socialSubdomains are added for social networks, which route login and API
// traffic through extra hosts.
var socialSubdomains = []string{"graph", "connect", "login", "auth"}

var socialKeywords = []string{"facebook", "instagram", "twitter", "tiktok"}

// youtubeExtras are additional hosts YouTube clients fall back to.
var youtubeExtras = []string{
	"youtubei.googleapis.com",
	"youtube-ui.l.google.com",
	"youtu.be",
	"www.youtu.be",
}

// BlockLines expands bare domains into the full set of hosts-file entries:
// the domain itself, common subdomains, social-network auth hosts, and
// YouTube's alternate endpoints.
func BlockLines(domains []string) []string {
	var lines []string
	seen := make(map[string]struct{})
	add := func(host string) {
		if _, ok := seen[host]; ok {
			return
		}
		seen[host] = struct{}{}
		lines = append(lines, sinkAddr+" "+host)
	}

	for _, d := range domains {
		d = cleanDomain(d)
		if d == "" {
			continue
		}
		add(d)
		for _, sub := range commonSubdomains {
			add(sub + "." + d)
		}
		if isSocial(d) {
			for _, sub := range socialSubdomains {
				add(sub + "." + d)
			}
		}
		if strings.Contains(d, "youtube") {
			for _, host := range youtubeExtras {
				add(host)
			}
		}
	}
	return lines
}

func cleanDomain(d string) string {
	d = strings.TrimSpace(d)
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}
	return d
}

func isSocial(domain string) bool {
	for _, kw := range socialKeywords {
		if strings.Contains(domain, kw) {
			return true
		}
	}
	return false
}

// ApplyHostsBlock rewrites the hosts file at path so its focusd-managed
// region contains exactly the block entries for the given domains. Any
// previous focusd region is replaced; the rest of the file is preserved.
func ApplyHostsBlock(path string, domains []string) error {
	lines := BlockLines(domains)
	if len(lines) == 0 {
		return ReleaseHostsBlock(path)
	}

	base, err := readWithoutBlock(path)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(base)
	if base != "" && !strings.HasSuffix(base, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(blockStartMarker)
	b.WriteByte('\n')
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(blockEndMarker)
	b.WriteByte('\n')

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write hosts file: %w", err)
	}
	return nil
}

// ReleaseHostsBlock removes the focusd-managed region from the hosts file.
// A file with no region is left untouched.
func ReleaseHostsBlock(path string) error {
	base, err := readWithoutBlock(path)
	if err != nil {
		return err
	}
	orig, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read hosts file: %w", err)
	}
	if base == string(orig) {
		return nil
	}
	if err := os.WriteFile(path, []byte(base), 0o644); err != nil {
		return fmt.Errorf("write hosts file: %w", err)
	}
	return nil
}

// readWithoutBlock returns the hosts file content with the focusd region
// stripped. A missing file reads as empty.
func readWithoutBlock(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read hosts file: %w", err)
	}

	var out []string
	inBlock := false
	for _, line := range strings.Split(string(data), "\n") {
		switch strings.TrimSpace(line) {
		case blockStartMarker:
			inBlock = true
			continue
		case blockEndMarker:
			inBlock = false
			continue
		}
		if inBlock {
			continue
		}
		out = append(out, line)
	}
	joined := strings.Join(out, "\n")
	// Drop trailing blank lines left behind by a removed region.
	joined = strings.TrimRight(joined, "\n")
	if joined != "" {
		joined += "\n"
	}
	return joined, nil
}
