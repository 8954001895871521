package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/selfheal/internal/authority"
	"github.com/steveyegge/selfheal/internal/types"
)

type stubAuthority struct {
	resp  *authority.Response
	err   error
	calls []authority.Request
}

func (s *stubAuthority) Send(ctx context.Context, req authority.Request) (*authority.Response, error) {
	s.calls = append(s.calls, req)
	return s.resp, s.err
}

func reportWith(overall int, issues ...types.DiagnosticIssue) *types.DiagnosticReport {
	r := &types.DiagnosticReport{SystemHealth: types.SystemHealth{Overall: overall}}
	for _, i := range issues {
		r.Issues.Add(i)
	}
	return r
}

func TestShouldAutoReport(t *testing.T) {
	assert.False(t, ShouldAutoReport(nil, DefaultThreshold))
	assert.True(t, ShouldAutoReport(reportWith(69), DefaultThreshold))
	assert.False(t, ShouldAutoReport(reportWith(70), DefaultThreshold))
	assert.False(t, ShouldAutoReport(reportWith(85, types.DiagnosticIssue{Kind: types.KindAPI, Severity: types.SeverityHigh, Message: "x"}), DefaultThreshold))

	// A critical issue triggers a report even above the threshold
	critical := reportWith(75, types.DiagnosticIssue{Kind: types.KindUI, Severity: types.SeverityCritical, Message: "x"})
	assert.True(t, ShouldAutoReport(critical, DefaultThreshold))
	assert.True(t, ShouldAutoReport(critical, 0))

	// Monotone in threshold
	r := reportWith(60)
	prev := false
	for threshold := 0; threshold <= 100; threshold += 5 {
		cur := ShouldAutoReport(r, threshold)
		if prev && !cur {
			t.Fatalf("ShouldAutoReport went true -> false when raising threshold to %d", threshold)
		}
		prev = cur
	}
}

func TestDetermineSeverity(t *testing.T) {
	tests := []struct {
		name   string
		report *types.DiagnosticReport
		want   types.Severity
	}{
		{"critical issue", reportWith(75, types.DiagnosticIssue{Kind: types.KindUI, Severity: types.SeverityCritical, Message: "x"}), types.SeverityCritical},
		{"overall below 50", reportWith(45), types.SeverityCritical},
		{"high issue", reportWith(85, types.DiagnosticIssue{Kind: types.KindAPI, Severity: types.SeverityHigh, Message: "x"}), types.SeverityHigh},
		{"overall below 70", reportWith(65), types.SeverityHigh},
		{"overall below 85", reportWith(84), types.SeverityMedium},
		{"healthy", reportWith(97), types.SeverityLow},
		{"nil", nil, types.SeverityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetermineSeverity(tt.report))
		})
	}
}

func TestDetectAffectedRoutes(t *testing.T) {
	tests := []struct {
		name   string
		issues []types.DiagnosticIssue
		want   []string
	}{
		{"none", nil, []string{WildcardRoute}},
		{
			name: "route-like locations deduplicated in order",
			issues: []types.DiagnosticIssue{
				{Kind: types.KindUI, Location: "/dashboard"},
				{Kind: types.KindAPI, Location: "/api/users?page=2"},
				{Kind: types.KindUI, Location: "/dashboard"},
			},
			want: []string{"/dashboard", "/api/users?page=2"},
		},
		{
			name: "file locations are not routes",
			issues: []types.DiagnosticIssue{
				{Kind: types.KindUI, Location: "/src/App.tsx"},
				{Kind: types.KindUI, Location: "/src/components/Card:42"},
				{Kind: types.KindUI, Location: "src/main.tsx"},
			},
			want: []string{WildcardRoute},
		},
		{
			name: "router locations always count",
			issues: []types.DiagnosticIssue{
				{Kind: types.KindRouter, Location: "settings/profile"},
				{Kind: types.KindRouter, Location: ""},
			},
			want: []string{"settings/profile"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectAffectedRoutes(tt.issues))
		})
	}
}

func TestDispatchSuccessWithPatch(t *testing.T) {
	body, err := json.Marshal(authority.RepairGuidanceResponse{
		Accepted: true,
		Message:  "patch proposed",
		Patch:    &types.PatchProposal{PatchType: types.PatchUI, CodeDiff: "+x"},
	})
	require.NoError(t, err)
	stub := &stubAuthority{resp: &authority.Response{Kind: authority.KindRepairGuidance, StatusCode: 200, Body: body}}
	d := New(Options{Authority: stub})

	report := reportWith(75, types.DiagnosticIssue{Kind: types.KindUI, Severity: types.SeverityCritical, Message: "x", Location: "/home"})
	out := d.Dispatch(context.Background(), report, types.EnvTest, SystemInfo("test", report.GeneratedAt))

	assert.True(t, out.Success)
	assert.Equal(t, "patch proposed", out.Message)
	require.NotNil(t, out.Patch)
	assert.Equal(t, types.SeverityCritical, out.Severity)
	assert.Equal(t, []string{"/home"}, out.Routes)

	require.Len(t, stub.calls, 1)
	sent, ok := stub.calls[0].(authority.RepairGuidanceRequest)
	require.True(t, ok)
	assert.Equal(t, types.EnvTest, sent.Request.Context)
	assert.Equal(t, out.RequestID, sent.Request.ID)

	hist := d.History()
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Success)
}

func TestDispatchFailureNeverRaises(t *testing.T) {
	stub := &stubAuthority{err: &authority.StatusError{Kind: authority.KindRepairGuidance, StatusCode: 503}}
	d := New(Options{Authority: stub})

	out := d.Dispatch(context.Background(), reportWith(40), types.EnvProd, types.SystemInfo{})
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "could not dispatch")
	assert.Nil(t, out.Patch)

	hist := d.History()
	require.Len(t, hist, 1)
	assert.False(t, hist[0].Success)
}

func TestDispatchWithoutAuthority(t *testing.T) {
	d := New(Options{})
	out := d.Dispatch(context.Background(), reportWith(40), types.EnvDev, types.SystemInfo{})
	assert.False(t, out.Success)
	assert.Len(t, d.History(), 1)
}

func TestDispatchUndecodableReplyStillSucceeds(t *testing.T) {
	stub := &stubAuthority{resp: &authority.Response{Kind: authority.KindRepairGuidance, StatusCode: 202}}
	d := New(Options{Authority: stub})
	out := d.Dispatch(context.Background(), reportWith(40), types.EnvDev, types.SystemInfo{})
	assert.True(t, out.Success)
	assert.Nil(t, out.Patch)
}

func TestDispatchHistoryBounded(t *testing.T) {
	stub := &stubAuthority{err: errors.New("down")}
	d := New(Options{Authority: stub, HistorySize: 3})
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, d.Dispatch(context.Background(), reportWith(10), types.EnvTest, types.SystemInfo{}).RequestID)
	}
	hist := d.History()
	require.Len(t, hist, 3)
	assert.Equal(t, ids[2], hist[0].Request.ID)
	assert.Equal(t, ids[4], hist[2].Request.ID)
}

func TestSystemInfo(t *testing.T) {
	info := SystemInfo("1.2.3", reportWith(0).GeneratedAt)
	assert.Equal(t, "1.2.3", info.Version)
	assert.NotZero(t, info.PID)
	assert.NotEmpty(t, info.GoVersion)
}
