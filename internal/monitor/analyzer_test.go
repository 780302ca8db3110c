package monitor

import (
	"strings"
	"testing"
	"time"

	"topicwatch/internal/mattermost"
)

func TestMatches(t *testing.T) {
	cases := []struct {
		msg    string
		topics []string
		want   bool
	}{
		{"I love Football", []string{"football"}, true},
		{"PARTY tonight", []string{"art"}, true},
		{"nothing here", []string{"football"}, false},
		{"anything", nil, false},
		{"anything", []string{""}, false},
		{"", []string{"x"}, false},
		{"Cricket and tennis", []string{"golf", "TENNIS"}, true},
	}
	for _, tc := range cases {
		got := Matches(mattermost.Post{Message: tc.msg}, tc.topics)
		if got != tc.want {
			t.Errorf("Matches(%q, %v)=%v want %v", tc.msg, tc.topics, got, tc.want)
		}
	}
}

func TestAnalyzerAliases(t *testing.T) {
	an := NewAnalyzer(map[string][]string{
		"TV Series":  {"netflix", " Show "},
		"  ":         {"ignored"},
		"no-aliases": {"", " "},
	})
	p := mattermost.Post{Message: "Watching Netflix tonight"}
	if !an.Matches(p, []string{"tv series"}) {
		t.Fatalf("alias should match")
	}
	if Matches(p, []string{"tv series"}) {
		t.Fatalf("plain Matches must ignore aliases")
	}
	if !an.Matches(mattermost.Post{Message: "great SHOW"}, []string{"TV Series"}) {
		t.Fatalf("alias lookup should be case-insensitive")
	}
	if _, ok := an.aliases["no-aliases"]; ok {
		t.Fatalf("empty alias lists should be dropped")
	}
}

func TestFilterRelevantPreservesOrder(t *testing.T) {
	posts := []mattermost.Post{
		post("1", "football news", 1),
		post("2", "weather", 2),
		post("3", "more FOOTBALL", 3),
		post("4", "basketball", 4),
	}
	got := FilterRelevant(posts, []string{"football"})
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Fatalf("got %+v", got)
	}
	if len(FilterRelevant(posts, nil)) != 0 {
		t.Fatalf("no topics should match nothing")
	}
	if len(FilterRelevant(nil, []string{"x"})) != 0 {
		t.Fatalf("no posts should match nothing")
	}
	// Idempotent.
	again := FilterRelevant(got, []string{"football"})
	if len(again) != len(got) {
		t.Fatalf("filter is not idempotent")
	}
}

func TestComposeNotification(t *testing.T) {
	if got := ComposeNotification(nil, "general", "bob", time.UTC); got != "" {
		t.Fatalf("expected empty text, got %q", got)
	}

	at := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC).UnixMilli()
	posts := []mattermost.Post{post("1", "first football", at), post("2", "second", at)}
	got := ComposeNotification(posts, "general", "@bob", time.UTC)
	want := "@bob I found discussion about topics you're interested in!\n\n" +
		"**Channel:** general\n\n" +
		"**Message 1** (3/5/2024, 2:07:09 PM):\nfirst football\n\n" +
		"**Message 2** (3/5/2024, 2:07:09 PM):\nsecond\n\n"
	if got != want {
		t.Fatalf("got:\n%q\nwant:\n%q", got, want)
	}
}

func TestComposeNotificationPlaceholderMention(t *testing.T) {
	got := ComposeNotification([]mattermost.Post{post("1", "x", 0)}, "c", " ", time.UTC)
	if !strings.HasPrefix(got, "@user ") {
		t.Fatalf("got %q", got)
	}
}

func TestComposeNotificationEachPostOnce(t *testing.T) {
	posts := []mattermost.Post{post("a", "alpha", 0), post("b", "beta", 0), post("c", "gamma", 0)}
	got := ComposeNotification(posts, "c", "u", time.UTC)
	for i, p := range posts {
		if strings.Count(got, p.Message) != 1 {
			t.Fatalf("message %q should appear once", p.Message)
		}
		if !strings.Contains(got, "**Message "+string(rune('1'+i))+"**") {
			t.Fatalf("missing block %d", i+1)
		}
	}
	if strings.Index(got, "alpha") > strings.Index(got, "beta") || strings.Index(got, "beta") > strings.Index(got, "gamma") {
		t.Fatalf("order not preserved")
	}
}
