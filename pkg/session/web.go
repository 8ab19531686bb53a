package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/switchcraft/switchcraft/pkg/util"
)

const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var xssidRE = regexp.MustCompile(`name="XSSID"\s+value="([^"]+)"`)

// EncodePassword applies the GS1900 web login obfuscation: the password
// characters are placed at positions divisible by 5 in reverse order,
// the length's tens digit at position 123 and ones digit at position
// 289, and every other position is filled with random alphanumerics.
func EncodePassword(pwd string) string {
	var sb strings.Builder
	pwdLen := len(pwd)
	charIdx := pwdLen

	for i := 1; i < 322-pwdLen; i++ {
		switch {
		case i%5 == 0 && charIdx > 0:
			charIdx--
			sb.WriteByte(pwd[charIdx])
		case i == 123:
			if pwdLen < 10 {
				sb.WriteByte('0')
			} else {
				sb.WriteByte(byte('0' + pwdLen/10))
			}
		case i == 289:
			sb.WriteByte(byte('0' + pwdLen%10))
		default:
			sb.WriteByte(passwordAlphabet[rand.Intn(len(passwordAlphabet))])
		}
	}
	return sb.String()
}

// WebSession is the Zyxel GS1900 HTTPS CGI client. Every form POST goes
// to /cgi-bin/dispatcher.cgi and must carry the XSSID token scraped from
// the previous page.
type WebSession struct {
	client  *resty.Client
	baseURL string
	authID  string
}

// DialWeb logs in to the web interface with the obfuscated password and
// verifies the session.
func DialWeb(ctx context.Context, host string, port int, username, password string, verifyTLS bool, timeout time.Duration) (*WebSession, error) {
	scheme := "https"
	if port == 80 {
		scheme = "http"
	}
	client := resty.New().
		SetTimeout(timeout).
		SetBaseURL(fmt.Sprintf("%s://%s:%d", scheme, host, port)).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))
	if !verifyTLS {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	s := &WebSession{client: client, baseURL: fmt.Sprintf("%s://%s:%d", scheme, host, port)}

	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(fmt.Sprintf("username=%s&password=%s&login=true;", username, EncodePassword(password))).
		Post("/cgi-bin/dispatcher.cgi")
	if err != nil {
		return nil, &util.CommandError{Kind: util.KindTransport, Message: "web login: " + err.Error()}
	}
	s.authID = strings.TrimSpace(resp.String())

	check, err := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(fmt.Sprintf("authId=%s&login_chk=true", s.authID)).
		Post("/cgi-bin/dispatcher.cgi")
	if err != nil {
		return nil, &util.CommandError{Kind: util.KindTransport, Message: "web login check: " + err.Error()}
	}
	if !strings.Contains(check.String(), "OK") {
		return nil, &util.CommandError{Kind: util.KindTransport, Message: "web login failed"}
	}

	util.Debugf("web session established for %s", host)
	return s, nil
}

// Close drops the session state. The device expires the session id on
// its own; there is no logout endpoint worth calling.
func (s *WebSession) Close() error {
	s.authID = ""
	return nil
}

// FetchXSSID loads a page by cmd id and extracts its XSSID token.
func (s *WebSession) FetchXSSID(ctx context.Context, cmd int) (string, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/cgi-bin/dispatcher.cgi?cmd=%d", cmd))
	if err != nil {
		return "", &util.CommandError{Kind: util.KindTransport, Message: "fetch page: " + err.Error()}
	}
	m := xssidRE.FindStringSubmatch(resp.String())
	if m == nil {
		return "", &util.CommandError{Kind: util.KindProtocol, Message: fmt.Sprintf("no XSSID token on page cmd=%d", cmd)}
	}
	return m[1], nil
}

// PostForm submits a form to the dispatcher with the XSSID token for the
// given page, returning the response body.
func (s *WebSession) PostForm(ctx context.Context, pageCmd int, form map[string]string) (string, error) {
	xssid, err := s.FetchXSSID(ctx, pageCmd)
	if err != nil {
		return "", err
	}
	values := map[string]string{"XSSID": xssid}
	for k, v := range form {
		values[k] = v
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(values).
		Post("/cgi-bin/dispatcher.cgi")
	if err != nil {
		return "", &util.CommandError{Kind: util.KindTransport, Message: "form post: " + err.Error()}
	}
	return resp.String(), nil
}
