package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/steamspark/spark/apps/api/echo"
	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/earning"
)

func (f fixture) releasedEarnings(t *testing.T, amounts ...core.Money) []earning.Earning {
	b := f.booking(t, 2*len(amounts), true)
	es := make([]earning.Earning, 0, len(amounts))
	for i, amount := range amounts {
		sessions := (i + 1) * earning.SessionsPerRelease
		es = append(es, earning.Earning{
			TeacherID:         f.teacher.ID,
			BookingID:         b.ID,
			Amount:            amount,
			SessionsRequired:  sessions,
			SessionsCompleted: sessions,
			Status:            earning.StatusReleased,
		})
	}
	es, err := f.env.EarningRepo.CreateEarnings(ctx, es)
	require.NoError(t, err)
	return es
}

func Test_payoutApi_access(t *testing.T) {
	f := newFixture(t)
	base := "/v1/admin/payouts"

	var tests []httpTest
	for _, r := range []struct{ method, path string }{
		{http.MethodGet, base},
		{http.MethodPost, base},
		{http.MethodPost, base + "/bulk"},
		{http.MethodGet, base + "/history"},
		{http.MethodGet, base + "/balance"},
	} {
		tests = append(tests,
			httpTest{
				name: r.method + " " + r.path + " anonymous", method: r.method, path: r.path,
				wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken),
			},
			httpTest{
				name: r.method + " " + r.path + " teacher", method: r.method, path: r.path, token: f.teacherToken,
				wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
			},
		)
	}
	runHTTPTests(t, f.app, tests)
}

func Test_payoutApi_empty(t *testing.T) {
	f := newFixture(t)
	base := "/v1/admin/payouts"

	tests := []httpTest{
		{name: "No pending payouts", path: base, token: f.adminToken, wantCode: http.StatusOK, wantData: []byte(`{"teachers":[]}`)},
		{name: "No pending earnings", path: base + "?teacher_id=" + f.teacher.ID, token: f.adminToken, wantCode: http.StatusOK, wantData: []byte(`{"earnings":[]}`)},
		{
			name: "Balance", path: base + "/balance", token: f.adminToken, wantCode: http.StatusOK,
			wantData: marchallObj(t, BalanceResponse{Balance: core.Cedis(1000000), Currency: "GHS", Available: core.Cedis(1000000)}),
		},
		{
			name: "Nothing to pay", method: http.MethodPost, path: base, token: f.adminToken,
			body:     marchallObj(t, earning.PayoutRequest{TeacherID: f.teacher.ID}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "No released earnings to pay out"}),
		},
		{
			name: "Teacher required", method: http.MethodPost, path: base, token: f.adminToken, body: []byte(`{}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"teacher_id": "this field is required"}),
		},
		{
			name: "Unknown teacher", method: http.MethodPost, path: base, token: f.adminToken,
			body:     marchallObj(t, earning.PayoutRequest{TeacherID: f.parent.ID}),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "teacher not found"}),
		},
		{
			name: "Bulk with nothing pending", method: http.MethodPost, path: base + "/bulk", token: f.adminToken,
			wantCode: http.StatusOK,
			wantData: marchallObj(t, earning.BulkResult{Message: "No pending payouts found", Payouts: []earning.Payout{}, Skipped: []earning.SkippedTeacher{}}),
		},
	}
	runHTTPTests(t, f.app, tests)
}

func Test_payoutApi_payout(t *testing.T) {
	f := newFixture(t)
	base := "/v1/admin/payouts"
	es := f.releasedEarnings(t, core.Cedis(200), core.Cedis(100))

	rec := serve(f.app, http.MethodGet, base, f.adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pending struct {
		Teachers []earning.TeacherPayouts `json:"teachers"`
	}
	unmarchall(t, rec, &pending)
	require.Len(t, pending.Teachers, 1)
	assert.Equal(t, f.teacher.ID, pending.Teachers[0].Teacher.ID)
	assert.Equal(t, core.Cedis(300), pending.Teachers[0].Total)

	// earnings of another teacher cannot be mixed in
	rec = serve(f.app, http.MethodPost, base, f.adminToken, marchallObj(t, earning.PayoutRequest{
		TeacherID:  f.teacher.ID,
		EarningIDs: []string{es[0].ID, "1c6e4a43-5a59-4d0b-9a7e-0f5d1e1b7a11"},
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = serve(f.app, http.MethodPost, base, f.adminToken, marchallObj(t, earning.PayoutRequest{TeacherID: f.teacher.ID}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res PayoutResponse
	unmarchall(t, rec, &res)
	assert.True(t, res.Success)
	assert.Equal(t, "Transfer initiated successfully", res.Message)
	assert.Equal(t, earning.PayoutPending, res.Status)
	assert.Equal(t, "TRF_"+res.Reference, res.TransferCode)
	assert.Equal(t, core.Cedis(300), res.Payout.Amount)
	assert.ElementsMatch(t, earning.IDs(es), res.Payout.EarningIDs)

	require.Len(t, f.env.Gateway.Transfers, 1)
	assert.Equal(t, core.Cedis(300), f.env.Gateway.Transfers[0].Amount)

	// the earnings are no longer pending
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: []byte(`{"teachers":[]}`)}, serve(f.app, http.MethodGet, base, f.adminToken))

	t.Run("History", func(t *testing.T) {
		get := func(query string) earning.History {
			rec := serve(f.app, http.MethodGet, base+"/history"+query, f.adminToken)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var h earning.History
			unmarchall(t, rec, &h)
			return h
		}

		h := get("")
		require.Len(t, h.Payouts, 1)
		assert.Equal(t, res.Reference, h.Payouts[0].Reference)
		assert.Equal(t, earning.Pagination{Page: 1, Limit: 20, Total: 1, TotalPages: 1}, h.Pagination)
		assert.Equal(t, 1, h.Summary.TotalPayouts)
		assert.Equal(t, core.Cedis(300), h.Summary.TotalAmount)
		assert.Equal(t, 1, h.Summary.Pending)

		assert.Len(t, get("?status=all").Payouts, 1)
		assert.Len(t, get("?status=pending&teacher_id="+f.teacher.ID).Payouts, 1)
		assert.Empty(t, get("?status=success").Payouts)
		assert.Empty(t, get("?teacher_id="+f.parent.ID).Payouts)
	})
}

func Test_payoutApi_bulkPayout(t *testing.T) {
	f := newFixture(t)
	f.releasedEarnings(t, core.Cedis(150))

	rec := serve(f.app, http.MethodPost, "/v1/admin/payouts/bulk", f.adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res earning.BulkResult
	unmarchall(t, rec, &res)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.TransfersCount)
	assert.Equal(t, core.Cedis(150), res.TotalAmount)
	assert.Empty(t, res.Skipped)
	require.Len(t, res.Payouts, 1)
	assert.Equal(t, f.teacher.ID, res.Payouts[0].TeacherID)
}

func Test_payoutApi_bulkPayout_insufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.releasedEarnings(t, core.Cedis(150))
	f.env.Gateway.BalanceAmount = core.Cedis(100)

	rec := serve(f.app, http.MethodPost, "/v1/admin/payouts/bulk", f.adminToken)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marchallObj(t, httpErr{Error: "Insufficient balance. Need GHS 150.00, have GHS 100.00"}),
	}, rec)
	assert.Empty(t, f.env.Gateway.Transfers)
}
