package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/korean"

	"github.com/jgoulah/remotemeter/pkg/models"
)

func TestFetchMonth(t *testing.T) {
	meter, _ := newMeterHost(t, map[string]http.HandlerFunc{
		meterSubPath: func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			require.Equal(t, "home_remote_meter", q.Get("tag"))
			require.Equal(t, "2025", q.Get("yy"))
			require.Equal(t, "8", q.Get("mm"))
			require.Equal(t, "2", q.Get("eg"))
			require.Equal(t,
				"https://"+r.Host+"/center/remote_meter_view.php?tag=home_remote_meter&eg=2&yy=2025",
				r.Header.Get("Referer"),
			)

			respond(http.StatusOK, meterPage(
				[3]string{"2025년 08월 01일", "37129.9 KWh", "32.6 KWh"},
				[3]string{"2025년 08월 02일", "37160.1 KWh", "30.2 KWh"},
				[3]string{"합계", "", "62.8 KWh"},
			))(w, r)
		},
	})
	c, _ := newTestClient(t, "https://portal.invalid", meter.URL)

	got := c.FetchMonth(context.Background(), 2025, 8, 2)

	want := &models.MonthReadings{
		Year:  2025,
		Month: 8,
		Readings: []models.Reading{
			{Date: "2025-08-01", CumulativeUsage: 37129.9, DailyUsage: 32.6},
			{Date: "2025-08-02", CumulativeUsage: 37160.1, DailyUsage: 30.2},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FetchMonth() mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchMonthAbsence(t *testing.T) {
	testCases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "server error", handler: respond(http.StatusInternalServerError, meterPage([3]string{"2025년 08월 01일", "1 KWh", "1 KWh"}))},
		{name: "not found", handler: respond(http.StatusNotFound, "")},
		{name: "empty table", handler: respond(http.StatusOK, meterPage())},
		{name: "login page", handler: respond(http.StatusOK, `<form name="login"><input name="uid"></form>`)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			meter, log := newMeterHost(t, map[string]http.HandlerFunc{meterSubPath: tc.handler})
			c, _ := newTestClient(t, "https://portal.invalid", meter.URL)

			require.Nil(t, c.FetchMonth(context.Background(), 2025, 8, 1))
			require.Len(t, log.all(), 1)
		})
	}
}

func TestFetchMonthInvalidMonthMakesNoRequest(t *testing.T) {
	meter, log := newMeterHost(t, map[string]http.HandlerFunc{
		meterSubPath: respond(http.StatusOK, meterPage([3]string{"2025년 08월 01일", "1 KWh", "1 KWh"})),
	})
	c, _ := newTestClient(t, "https://portal.invalid", meter.URL)

	require.Nil(t, c.FetchMonth(context.Background(), 2025, 0, 1))
	require.Nil(t, c.FetchMonth(context.Background(), 2025, 13, 1))
	require.Empty(t, log.all())
}

func TestFetchMonthNetworkError(t *testing.T) {
	meter, _ := newMeterHost(t, nil)
	addr := meter.URL
	meter.Close()

	c, _ := newTestClient(t, "https://portal.invalid", addr)
	require.Nil(t, c.FetchMonth(context.Background(), 2025, 8, 1))
}

type monthQuery struct {
	Year, Month int
}

// rangeHost serves readings for the months in withData and an empty table otherwise
func rangeHost(t *testing.T, withData map[monthQuery]bool) (*Client, func() []monthQuery, *[]time.Duration) {
	t.Helper()

	var mu sync.Mutex
	var queries []monthQuery

	meter, _ := newMeterHost(t, map[string]http.HandlerFunc{
		meterSubPath: func(w http.ResponseWriter, r *http.Request) {
			year, _ := strconv.Atoi(r.URL.Query().Get("yy"))
			month, _ := strconv.Atoi(r.URL.Query().Get("mm"))
			q := monthQuery{Year: year, Month: month}

			mu.Lock()
			queries = append(queries, q)
			mu.Unlock()

			if !withData[q] {
				respond(http.StatusOK, meterPage())(w, r)
				return
			}
			date := fmt.Sprintf("%04d년 %02d월 01일", year, month)
			respond(http.StatusOK, meterPage([3]string{date, "100.0 KWh", "1.5 KWh"}))(w, r)
		},
	})

	seen := func() []monthQuery {
		mu.Lock()
		defer mu.Unlock()
		return append([]monthQuery(nil), queries...)
	}

	c, pauses := newTestClient(t, "https://portal.invalid", meter.URL)
	return c, seen, pauses
}

func TestFetchRange(t *testing.T) {
	c, queries, pauses := rangeHost(t, map[monthQuery]bool{
		{2025, 1}: true,
		{2025, 3}: true,
	})

	got := c.FetchRange(context.Background(), 2025, 1, 2025, 3)

	require.Equal(t, []monthQuery{{2025, 1}, {2025, 2}, {2025, 3}}, queries())
	require.Len(t, got, 2)
	require.Equal(t, 1, got[0].Month)
	require.Equal(t, "2025-01-01", got[0].Readings[0].Date)
	require.Equal(t, 3, got[1].Month)

	// Pacing follows successful months only
	require.Equal(t, []time.Duration{time.Second, time.Second}, *pauses)
}

func TestFetchRangeWrapsYear(t *testing.T) {
	c, queries, _ := rangeHost(t, map[monthQuery]bool{
		{2024, 12}: true,
		{2025, 1}:  true,
	})

	got := c.FetchRange(context.Background(), 2024, 11, 2025, 2)

	require.Equal(t, []monthQuery{{2024, 11}, {2024, 12}, {2025, 1}, {2025, 2}}, queries())
	require.Len(t, got, 2)
	require.Equal(t, 2024, got[0].Year)
	require.Equal(t, 12, got[0].Month)
	require.Equal(t, 2025, got[1].Year)
	require.Equal(t, 1, got[1].Month)
}

func TestFetchRangeEmptyWhenStartAfterEnd(t *testing.T) {
	c, queries, pauses := rangeHost(t, nil)

	got := c.FetchRange(context.Background(), 2025, 5, 2025, 4)

	require.NotNil(t, got)
	require.Empty(t, got)
	require.Empty(t, queries())
	require.Empty(t, *pauses)
}

func TestFetchRangeStopsWhenPacingInterrupted(t *testing.T) {
	c, queries, _ := rangeHost(t, map[monthQuery]bool{
		{2025, 1}: true,
		{2025, 2}: true,
	})
	c.pacer.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	got := c.FetchRange(context.Background(), 2025, 1, 2025, 2)

	require.Len(t, got, 1)
	require.Equal(t, []monthQuery{{2025, 1}}, queries())
}

func TestReconcileCookiesPrefersDataHost(t *testing.T) {
	s, err := NewSession(SessionOptions{
		BaseURL:      "https://portal.test",
		MeterBaseURL: "http://meter.test:8080",
	})
	require.NoError(t, err)

	primary, _ := url.Parse("https://portal.test/")
	data, _ := url.Parse("http://meter.test:8080/")
	s.jar.SetCookies(primary, []*http.Cookie{
		{Name: "PHPSESSID", Value: "portal-session", Path: "/"},
		{Name: "lang", Value: "ko", Path: "/"},
	})
	s.jar.SetCookies(data, []*http.Cookie{
		{Name: "PHPSESSID", Value: "meter-session", Path: "/"},
	})

	presented := s.ReconcileCookies()
	require.Equal(t, "meter-session", presented["PHPSESSID"].Value)
	require.Equal(t, "ko", presented["lang"].Value)

	// Portal cookies stay on the portal
	sent := map[string]string{}
	for _, c := range s.Cookies(data) {
		sent[c.Name] = c.Value
	}
	require.Equal(t, map[string]string{"PHPSESSID": "meter-session"}, sent)

	held := map[string]string{}
	for _, c := range s.Cookies(primary) {
		held[c.Name] = c.Value
	}
	require.Equal(t, map[string]string{"PHPSESSID": "portal-session", "lang": "ko"}, held)

	exported := s.ExportCookies()
	require.Len(t, exported, 1)
	for _, c := range exported {
		require.Equal(t, "meter.test", c.Domain)
		require.False(t, c.Secure)
	}
}

func TestDecodeBody(t *testing.T) {
	eucKR := func(s string) []byte {
		b, err := korean.EUCKR.NewEncoder().Bytes([]byte(s))
		require.NoError(t, err)
		return b
	}

	testCases := []struct {
		name        string
		body        []byte
		contentType string
		expected    string
	}{
		{name: "utf-8 header", body: []byte("로그아웃"), contentType: "text/html; charset=utf-8", expected: "로그아웃"},
		{name: "undeclared utf-8", body: []byte("<html>원격검침</html>"), contentType: "text/html", expected: "<html>원격검침</html>"},
		{name: "euc-kr header", body: eucKR("로그아웃"), contentType: "text/html; charset=EUC-KR", expected: "로그아웃"},
		{name: "euc-kr meta", body: eucKR(`<meta charset="euc-kr">로그아웃`), contentType: "text/html", expected: `<meta charset="euc-kr">로그아웃`},
		{name: "ascii", body: []byte("plain"), contentType: "", expected: "plain"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, decodeBody(tc.body, tc.contentType))
		})
	}
}
