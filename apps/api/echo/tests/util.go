package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/steamspark/spark/apps/api/echo"
	"github.com/steamspark/spark/core"
	"github.com/steamspark/spark/core/booking"
	"github.com/steamspark/spark/core/user"
	testutil "github.com/steamspark/spark/tests"
)

var (
	ctx = context.Background()

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
)

func setup(t *testing.T) (*Server, *testutil.Env) {
	env := testutil.NewEnv(t)
	env.Conf.Server.DisableReqLogs = true
	validate, _ := NewValidator()

	app := NewServer(&Options{
		Conf:            env.Conf,
		Logger:          env.Logger,
		Validate:        validate,
		UserSvc:         env.Users,
		BookingSvc:      env.Bookings,
		PaymentSvc:      env.Payments,
		MessagingSvc:    env.Messaging,
		NotificationSvc: env.Notifier,
		PayoutSvc:       env.Payouts,
	})
	return app, env
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

// serve runs one request through the app.
func serve(app *Server, method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	app.ServeHTTP(rec, req)
	return rec
}

func getToken(t *testing.T, conf *core.Config, usr user.User) string {
	token, err := GenerateToken(conf, NewClaims(conf, usr))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func unmarchall(t *testing.T, rec *httptest.ResponseRecorder, obj interface{}) {
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), obj), rec.Body.String())
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	if _, ok := j1.([]interface{}); !ok {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, app *Server, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

// Fixtures

type fixture struct {
	app     *Server
	env     *testutil.Env
	parent  user.User
	teacher user.User
	admin   user.User
	gig     booking.Gig
	student booking.Student

	parentToken  string
	teacherToken string
	adminToken   string
}

func newFixture(t *testing.T) fixture {
	app, env := setup(t)
	f := fixture{app: app, env: env}
	f.teacher = testutil.CreateTeacher(t, env.UserRepo, "Ama Mensah", "ama@spark.test")
	f.parent = testutil.CreateUser(t, env.UserRepo, "Kofi Boateng", "kofi@spark.test", user.RoleParent)
	f.admin = testutil.CreateUser(t, env.UserRepo, "Admin", "admin@spark.test", user.RoleAdmin)
	f.gig = testutil.CreateGig(env.DB, f.teacher.ID, "Robotics 101", core.Cedis(100))
	f.student = testutil.CreateStudent(env.DB, f.parent.ID, "Yaw")

	f.parentToken = getToken(t, env.Conf, f.parent)
	f.teacherToken = getToken(t, env.Conf, f.teacher)
	f.adminToken = getToken(t, env.Conf, f.admin)
	return f
}

// booking creates a booking of n sessions. It is accepted by the teacher when accept is true.
func (f fixture) booking(t *testing.T, n int, accept bool) booking.Booking {
	b, err := f.env.Bookings.Create(ctx, f.parent, testutil.NewBooking(f.gig, f.student, n))
	require.NoError(t, err)
	if accept {
		b, err = f.env.Bookings.Accept(ctx, f.teacher, b.ID)
		require.NoError(t, err)
	}
	return b
}
