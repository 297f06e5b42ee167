package tests

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/booking"
	testutil "github.com/steamspark/spark/tests"
)

func Test_bookingApi_create(t *testing.T) {
	f := newFixture(t)
	path := "/v1/bookings"
	nb := testutil.NewBooking(f.gig, f.student, 3)

	tests := []httpTest{
		{name: "Auth required", method: http.MethodPost, path: path, body: marchallObj(t, nb), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Parents only", method: http.MethodPost, path: path, token: f.teacherToken, body: marchallObj(t, nb),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "Malformed body", method: http.MethodPost, path: path, token: f.parentToken, body: []byte(`{"gig_id":`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "malformed request body"}),
		},
		{
			name: "Invalid body", method: http.MethodPost, path: path, token: f.parentToken, body: []byte(`{}`),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"gig_id":   "this field is required",
				"sessions": "this field is required",
			}),
		},
		{
			name: "Unknown gig", method: http.MethodPost, path: path, token: f.parentToken,
			body:     marchallObj(t, testutil.NewBooking(booking.Gig{ID: "1c6e4a43-5a59-4d0b-9a7e-0f5d1e1b7a11"}, f.student, 1)),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "gig not found"}),
		},
	}
	runHTTPTests(t, f.app, tests)

	t.Run("Success", func(t *testing.T) {
		rec := serve(f.app, http.MethodPost, path, f.parentToken, marchallObj(t, nb))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var b booking.Booking
		unmarchall(t, rec, &b)
		assert.Equal(t, booking.StatusPending, b.Status)
		assert.Equal(t, booking.PaymentUnpaid, b.PaymentStatus)
		assert.Equal(t, f.parent.ID, b.ParentID)
		assert.Equal(t, 3, b.TotalSessions)
		assert.Equal(t, core.Cedis(360), b.TotalAmount)
		assert.Len(t, b.Sessions, 3)
	})
}

func Test_bookingApi_retrieve(t *testing.T) {
	f := newFixture(t)
	b := f.booking(t, 2, false)
	stranger := testutil.CreateUser(t, f.env.UserRepo, "Esi", "esi@spark.test", "parent")
	path := "/v1/bookings/" + b.ID

	tests := []httpTest{
		{name: "Auth required", path: path, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Strangers forbidden", path: path, token: getToken(t, f.env.Conf, stranger),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "Not found", path: "/v1/bookings/1c6e4a43-5a59-4d0b-9a7e-0f5d1e1b7a11", token: f.parentToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "booking not found"}),
		},
	}
	runHTTPTests(t, f.app, tests)

	for _, token := range []string{f.parentToken, f.teacherToken, f.adminToken} {
		rec := serve(f.app, http.MethodGet, path, token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var got booking.Booking
		unmarchall(t, rec, &got)
		assert.Equal(t, b.ID, got.ID)
		assert.Len(t, got.Sessions, 2)
	}
}

func Test_bookingApi_respond(t *testing.T) {
	f := newFixture(t)
	toAccept := f.booking(t, 2, false)
	toDecline := f.booking(t, 2, false)
	other := testutil.CreateTeacher(t, f.env.UserRepo, "Kwame", "kwame@spark.test")
	otherToken := getToken(t, f.env.Conf, other)

	accept := "/v1/bookings/" + toAccept.ID + "/accept"
	decline := "/v1/bookings/" + toDecline.ID + "/decline"

	tests := []httpTest{
		{
			name: "Teachers only", method: http.MethodPost, path: accept, token: f.parentToken,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "Other teacher", method: http.MethodPost, path: accept, token: otherToken,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "only the teacher of this booking can do this"}),
		},
		{
			name: "Reason too long", method: http.MethodPost, path: decline, token: f.teacherToken,
			body:     marchallObj(t, map[string]string{"reason": strings.Repeat("a", 501)}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"reason": "reason must be a maximum of 500 characters in length"}),
		},
	}
	runHTTPTests(t, f.app, tests)

	t.Run("Accept", func(t *testing.T) {
		rec := serve(f.app, http.MethodPost, accept, f.teacherToken)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var b booking.Booking
		unmarchall(t, rec, &b)
		assert.Equal(t, booking.StatusAccepted, b.Status)

		// only pending bookings can be answered
		rec = serve(f.app, http.MethodPost, accept, f.teacherToken)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("Decline", func(t *testing.T) {
		rec := serve(f.app, http.MethodPost, decline, f.teacherToken, []byte(`{"reason":"Fully booked this term"}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var b booking.Booking
		unmarchall(t, rec, &b)
		assert.Equal(t, booking.StatusCancelled, b.Status)
	})
}

func Test_bookingApi_completeSession(t *testing.T) {
	f := newFixture(t)
	b := f.booking(t, 2, true)
	b, err := f.env.Bookings.Get(ctx, f.teacher, b.ID)
	require.NoError(t, err)
	path := func(id string) string { return "/v1/sessions/" + id + "/complete" }

	tests := []httpTest{
		{
			name: "Teachers only", method: http.MethodPost, path: path(b.Sessions[0].ID), token: f.parentToken,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "Unknown session", method: http.MethodPost, path: path("1c6e4a43-5a59-4d0b-9a7e-0f5d1e1b7a11"), token: f.teacherToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "session not found"}),
		},
		{
			name: "Unpaid booking", method: http.MethodPost, path: path(b.Sessions[0].ID), token: f.teacherToken,
			wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: booking.ErrNotConfirmed.Error()}),
		},
	}
	runHTTPTests(t, f.app, tests)
}
