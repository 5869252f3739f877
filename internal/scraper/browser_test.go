package scraper

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/remotemeter/internal/config"
)

func TestCookieParams(t *testing.T) {
	params := cookieParams([]config.Cookie{
		{Name: "PHPSESSID", Value: "meter", Domain: "meter.test", Secure: true},
		{Name: "lang", Value: "ko", Domain: "meter.test", Path: "/center", Expires: 1767225600, HTTPOnly: true},
	})

	require.Len(t, params, 2)

	require.Equal(t, "PHPSESSID", params[0].Name)
	require.Equal(t, "meter", params[0].Value)
	require.Equal(t, "/", params[0].Path)
	require.True(t, params[0].Secure)
	require.Nil(t, params[0].Expires)

	require.Equal(t, "/center", params[1].Path)
	require.True(t, params[1].HTTPOnly)
	require.NotNil(t, params[1].Expires)
	require.Equal(t, time.Unix(1767225600, 0), params[1].Expires.Time())
}

func TestFromNetworkCookies(t *testing.T) {
	got := fromNetworkCookies([]*network.Cookie{
		{Name: "PHPSESSID", Value: "meter", Domain: "meter.test", Path: "/", Expires: -1, Session: true},
		{Name: "lang", Value: "ko", Domain: "meter.test", Path: "/center", Expires: 1767225600, HTTPOnly: true, Secure: true},
	})

	require.Equal(t, []config.Cookie{
		{Name: "PHPSESSID", Value: "meter", Domain: "meter.test", Path: "/"},
		{Name: "lang", Value: "ko", Domain: "meter.test", Path: "/center", Expires: 1767225600, HTTPOnly: true, Secure: true},
	}, got)
}

func TestDroppedCookies(t *testing.T) {
	sent := []config.Cookie{
		{Name: "PHPSESSID", Value: "meter"},
		{Name: "lang", Value: "ko"},
	}

	require.Empty(t, DroppedCookies(sent, []config.Cookie{
		{Name: "lang", Value: "ko"},
		{Name: "PHPSESSID", Value: "meter"},
		{Name: "_ga", Value: "x"},
	}))
	require.Equal(t, []string{"PHPSESSID"}, DroppedCookies(sent, []config.Cookie{
		{Name: "PHPSESSID", Value: "fresh"},
		{Name: "lang", Value: "ko"},
	}))
	require.Equal(t, []string{"PHPSESSID", "lang"}, DroppedCookies(sent, nil))
	require.Empty(t, DroppedCookies(nil, nil))
}
