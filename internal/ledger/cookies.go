package ledger

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// loadCookiesFromFile reads a Netscape-format cookies.txt export (the format
// browser extensions produce) into the jar. A missing file is not an error:
// the provider simply reports unauthenticated until a file shows up.
func loadCookiesFromFile(jar *cookiejar.Jar, filename string) (int, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read cookies file: %w", err)
	}

	loaded := 0
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// domain, include-subdomains, path, secure, expires, name, value
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			continue
		}

		domain := fields[0]
		path := fields[2]
		secure := fields[3] == "TRUE"
		name := fields[5]
		value := fields[6]

		cookie := &http.Cookie{
			Name:   name,
			Value:  value,
			Domain: strings.TrimPrefix(domain, "."),
			Path:   path,
			Secure: secure,
		}
		if exp, err := strconv.ParseInt(fields[4], 10, 64); err == nil && exp > 0 {
			cookie.Expires = time.Unix(exp, 0)
		}

		scheme := "http"
		if secure {
			scheme = "https"
		}
		u := &url.URL{
			Scheme: scheme,
			Host:   cookie.Domain,
			Path:   path,
		}
		jar.SetCookies(u, []*http.Cookie{cookie})
		loaded++
	}

	return loaded, nil
}
