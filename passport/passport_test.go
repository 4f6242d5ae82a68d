package passport_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/immutable/go-passport/internal/metrics"
	"github.com/immutable/go-passport/internal/testidp"
	"github.com/immutable/go-passport/messaging"
	"github.com/immutable/go-passport/messaging/messagingfakes"
	"github.com/immutable/go-passport/passport"
	"github.com/immutable/go-passport/passporterror"
	"github.com/immutable/go-passport/retry"
	"github.com/immutable/go-passport/storage"
	"github.com/immutable/go-passport/storage/memory"
	"github.com/immutable/go-passport/storage/storagefakes"
)

const testClientID = "test-client"

var testUserClaims = map[string]any{
	"sub":      "email|user-1",
	"email":    "alice@example.com",
	"nickname": "alice",
}

var walletUserClaims = map[string]any{
	"sub":   "email|user-2",
	"email": "bob@example.com",
	"passport": map[string]any{
		"zkevm_eth_address":        "0xzk",
		"zkevm_user_admin_address": "0xadmin",
	},
}

// delegate lets the app server start before the Passport that handles it exists.
type delegate struct {
	mu sync.RWMutex
	h  http.Handler
}

func (d *delegate) set(h http.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.h = h
}

func (d *delegate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.RLock()
	h := d.h
	d.mu.RUnlock()
	if h == nil {
		http.NotFound(w, r)
		return
	}
	h.ServeHTTP(w, r)
}

// harness is an application serving its redirect pages, the IdP, and the
// "browser" that follows every launched URL.
type harness struct {
	idp *testidp.Provider
	app *httptest.Server
	p   *passport.Passport
	cfg passport.Config

	mu       sync.Mutex
	launched []string
	statuses []int
}

type harnessOptions struct {
	clientID string
	driver   storage.Driver
	mutate   func(*passport.Config)
	opts     []passport.Option
	idpOpts  []testidp.Option
	// launch replaces the browser
	launch func(h *harness, url string) error
}

func newHarness(t *testing.T, ho harnessOptions) *harness {
	t.Helper()
	if ho.clientID == "" {
		ho.clientID = testClientID
	}
	if ho.driver == nil {
		ho.driver = memory.New()
	}

	d := &delegate{}
	app := httptest.NewServer(d)
	t.Cleanup(app.Close)

	idp, err := testidp.New(ho.clientID, append([]testidp.Option{testidp.WithRedirectURIs(app.URL + "/callback")}, ho.idpOpts...)...)
	require.NoError(t, err)
	t.Cleanup(idp.Close)
	idp.SetUser(testUserClaims)

	h := &harness{idp: idp, app: app}
	h.cfg = passport.Config{
		ClientID:          ho.clientID,
		RedirectURI:       app.URL + "/callback",
		LogoutRedirectURI: app.URL + "/logout",
		Overrides: passport.Overrides{
			AuthenticationDomain: idp.URL(),
			PassportDomain:       "https://passport.example.com",
		},
	}
	if ho.mutate != nil {
		ho.mutate(&h.cfg)
	}

	launch := ho.launch
	if launch == nil {
		launch = (*harness).browse
	}
	opts := append([]passport.Option{
		passport.WithStorage(ho.driver),
		passport.WithHTTPClient(idp.Client()),
		passport.WithLogger(zerolog.Nop()),
		passport.WithRetry(retry.WithRetries(2), retry.WithInterval(time.Millisecond)),
		passport.WithLoginTimeout(2 * time.Second),
		passport.WithSilentLogoutTimeout(2 * time.Second),
		passport.WithLauncher(func(u string) error {
			h.mu.Lock()
			h.launched = append(h.launched, u)
			h.mu.Unlock()
			return launch(h, u)
		}),
	}, ho.opts...)

	h.p, err = passport.New(h.cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.p.Close(context.Background()) })
	d.set(h.p.Handler())
	return h
}

// browse follows url and its redirects like a browser tab would.
func (h *harness) browse(u string) error {
	resp, err := h.idp.Client().Get(u)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.statuses = append(h.statuses, resp.StatusCode)
	h.mu.Unlock()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// lastStatus is the status of the last page browse ended on.
func (h *harness) lastStatus() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.statuses) == 0 {
		return 0
	}
	return h.statuses[len(h.statuses)-1]
}

func (h *harness) launches() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.launched...)
}

func TestLogin(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, harnessOptions{opts: []passport.Option{passport.WithMetricsRegisterer(reg)}})
	ctx := context.Background()

	user, err := h.p.Login(ctx, passport.LoginOptions{})
	require.NoError(t, err)
	require.Equal(t, "email|user-1", user.Subject)
	require.Equal(t, "alice@example.com", user.Email)
	require.Len(t, h.launches(), 1)
	require.True(t, strings.HasPrefix(h.launches()[0], h.idp.URL()+"/authorize?"))

	info, err := h.p.GetUserInfo(ctx)
	require.NoError(t, err)
	require.Equal(t, user.Subject, info.Subject)

	accessToken, err := h.p.GetAccessToken(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, accessToken)
	idToken, err := h.p.GetIDToken(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, idToken)

	// a second login reuses the session
	again, err := h.p.Login(ctx, passport.LoginOptions{})
	require.NoError(t, err)
	require.Equal(t, user.Subject, again.Subject)
	require.Len(t, h.launches(), 1)

	require.Equal(t, 1.0, testutil.ToFloat64(h.p.Metrics().Logins.WithLabelValues(metrics.ResultSuccess)))
	count, err := testutil.GatherAndCount(reg, "passport_logins_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestLoginOptionsReachAuthorizeURL(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	u, err := h.p.LoginWithRedirect(context.Background(), passport.LoginOptions{
		UseSilentLogin:    true,
		Email:             "alice@example.com",
		DirectLoginMethod: "google",
		AnonymousID:       "anon-1",
	})
	require.NoError(t, err)
	require.Contains(t, u, "prompt=none")
	require.Contains(t, u, "login_hint=alice%40example.com")
	require.Contains(t, u, "direct=google")
	require.Contains(t, u, "third_party_a_id=anon-1")
}

func TestLoginWithRedirectAndCallback(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	u, err := h.p.LoginWithRedirect(ctx, passport.LoginOptions{})
	require.NoError(t, err)

	client := *h.idp.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, err := client.Get(u)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	require.NoError(t, h.p.LoginCallback(ctx, resp.Header.Get("Location")))
	user, err := h.p.GetUserInfo(ctx)
	require.NoError(t, err)
	require.Equal(t, "email|user-1", user.Subject)

	err = h.p.LoginCallback(ctx, resp.Header.Get("Location"))
	require.True(t, passporterror.Is(err, passporterror.AuthenticationError))
}

func TestLoginUseCachedSession(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	_, err := h.p.Login(context.Background(), passport.LoginOptions{UseCachedSession: true})
	require.True(t, passporterror.Is(err, passporterror.NotLoggedInError))
	require.Empty(t, h.launches())
}

func TestLoginDenied(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.idp.SetUser(map[string]any{})

	_, err := h.p.Login(context.Background(), passport.LoginOptions{UseSilentLogin: true})
	require.True(t, passporterror.Is(err, passporterror.AuthenticationError))
	require.ErrorContains(t, err, "login_required")
}

func TestLoginTimeout(t *testing.T) {
	h := newHarness(t, harnessOptions{
		launch: func(*harness, string) error { return nil },
		opts:   []passport.Option{passport.WithLoginTimeout(30 * time.Millisecond)},
	})
	_, err := h.p.Login(context.Background(), passport.LoginOptions{})
	require.True(t, passporterror.Is(err, passporterror.AuthenticationError))
	require.ErrorIs(t, err, passport.ErrLoginTimeout)
}

func TestLoginLaunchFailure(t *testing.T) {
	h := newHarness(t, harnessOptions{
		launch: func(*harness, string) error { return errors.New("no browser") },
	})
	_, err := h.p.Login(context.Background(), passport.LoginOptions{})
	require.ErrorIs(t, err, passport.ErrLoginWindowFailed)
}

func TestConcurrentLoginsOpenOneWindow(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	var wg sync.WaitGroup
	subjects := make([]string, 5)
	errs := make([]error, 5)
	for i := range subjects {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user, err := h.p.Login(context.Background(), passport.LoginOptions{})
			errs[i] = err
			if user != nil {
				subjects[i] = user.Subject
			}
		}()
	}
	wg.Wait()

	for i := range subjects {
		require.NoError(t, errs[i])
		require.Equal(t, "email|user-1", subjects[i])
	}
	require.Equal(t, 1, h.idp.AuthorizeCalls())
}

func TestSessionsAreIsolatedPerClient(t *testing.T) {
	driver := memory.New()
	ctx := context.Background()
	clients := []*harness{
		newHarness(t, harnessOptions{clientID: "client-a", driver: driver}),
		newHarness(t, harnessOptions{clientID: "client-b", driver: driver}),
		newHarness(t, harnessOptions{clientID: "client-a-b", driver: driver}),
	}

	// every client logs in, reads its session and logs out concurrently with
	// the others, several times over
	var wg sync.WaitGroup
	errs := make([]error, len(clients))
	for i, h := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 3 {
				if _, err := h.p.Login(ctx, passport.LoginOptions{}); err != nil {
					errs[i] = err
					return
				}
				if _, err := h.p.GetAccessToken(ctx); err != nil {
					errs[i] = err
					return
				}
				if err := h.p.Logout(ctx, passport.LogoutOptions{}); err != nil {
					errs[i] = err
					return
				}
			}
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	a, b := clients[0], clients[1]
	_, err := a.p.Login(ctx, passport.LoginOptions{})
	require.NoError(t, err)
	_, err = b.p.GetUserInfo(ctx)
	require.True(t, passporterror.Is(err, passporterror.NotLoggedInError))

	_, err = b.p.Login(ctx, passport.LoginOptions{})
	require.NoError(t, err)
	require.NoError(t, a.p.Logout(ctx, passport.LogoutOptions{}))

	_, err = b.p.GetUserInfo(ctx)
	require.NoError(t, err)
	_, err = a.p.GetUserInfo(ctx)
	require.True(t, passporterror.Is(err, passporterror.NotLoggedInError))
}

func TestRedirectLogout(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	_, err := h.p.Login(ctx, passport.LoginOptions{})
	require.NoError(t, err)

	require.NoError(t, h.p.Logout(ctx, passport.LogoutOptions{}))
	launched := h.launches()
	require.Len(t, launched, 2)
	require.True(t, strings.HasPrefix(launched[1], h.idp.URL()+"/v2/logout?"))
	require.Equal(t, 1, h.idp.LogoutCalls())

	_, err = h.p.GetUserInfo(ctx)
	require.True(t, passporterror.Is(err, passporterror.NotLoggedInError))
}

func TestSilentLogout(t *testing.T) {
	h := newHarness(t, harnessOptions{
		mutate: func(c *passport.Config) { c.LogoutMode = passport.LogoutModeSilent },
	})
	ctx := context.Background()
	_, err := h.p.Login(ctx, passport.LoginOptions{})
	require.NoError(t, err)

	require.NoError(t, h.p.Logout(ctx, passport.LogoutOptions{}))
	require.Equal(t, 1, h.idp.LogoutCalls())
	// only the login window was shown
	require.Len(t, h.launches(), 1)

	_, err = h.p.GetUserInfo(ctx)
	require.True(t, passporterror.Is(err, passporterror.NotLoggedInError))
}

type failingLogoutTransport struct {
	next http.RoundTripper
}

func (f failingLogoutTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if strings.HasSuffix(r.URL.Path, "/v2/logout") {
		return nil, errors.New("offline")
	}
	return f.next.RoundTrip(r)
}

func TestSilentLogoutTimeout(t *testing.T) {
	d := &delegate{}
	app := httptest.NewServer(d)
	t.Cleanup(app.Close)
	idp, err := testidp.New(testClientID, testidp.WithRedirectURIs(app.URL+"/callback"))
	require.NoError(t, err)
	t.Cleanup(idp.Close)

	client := *idp.Client()
	client.Transport = failingLogoutTransport{next: idp.Client().Transport}
	p, err := passport.New(passport.Config{
		ClientID:          testClientID,
		RedirectURI:       app.URL + "/callback",
		LogoutRedirectURI: app.URL + "/logout",
		LogoutMode:        passport.LogoutModeSilent,
		Overrides:         passport.Overrides{AuthenticationDomain: idp.URL()},
	},
		passport.WithHTTPClient(&client),
		passport.WithLogger(zerolog.Nop()),
		passport.WithSilentLogoutTimeout(30*time.Millisecond),
	)
	require.NoError(t, err)
	d.set(p.Handler())

	err = p.Logout(context.Background(), passport.LogoutOptions{})
	require.True(t, passporterror.Is(err, passporterror.LogoutError))
	require.ErrorIs(t, err, passport.ErrSilentLogoutTimeout)
}

func TestLogoutSilentCallbackChecksInitiator(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	_, err := h.p.Login(ctx, passport.LoginOptions{})
	require.NoError(t, err)

	err = h.p.LogoutSilentCallback(ctx, "https://evil.example.com")
	require.True(t, passporterror.Is(err, passporterror.LogoutError))
	require.ErrorIs(t, err, passport.ErrUntrustedInitiator)
	_, err = h.p.GetUserInfo(ctx)
	require.NoError(t, err)

	// the same check applies to the logout page
	req, err := http.NewRequest(http.MethodGet, h.app.URL+"/logout", nil)
	require.NoError(t, err)
	req.Header.Set("Referer", "https://evil.example.com/v2/logout")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	_, err = h.p.GetUserInfo(ctx)
	require.NoError(t, err)

	require.NoError(t, h.p.LogoutSilentCallback(ctx, h.idp.URL()+"/v2/logout"))
	_, err = h.p.GetUserInfo(ctx)
	require.True(t, passporterror.Is(err, passporterror.NotLoggedInError))
}

func TestLogoutFromHTTPSProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("silent", func(t *testing.T) {
		h := newHarness(t, harnessOptions{
			idpOpts: []testidp.Option{testidp.WithTLS()},
			mutate:  func(c *passport.Config) { c.LogoutMode = passport.LogoutModeSilent },
		})
		require.True(t, strings.HasPrefix(h.idp.URL(), "https://"))
		_, err := h.p.Login(ctx, passport.LoginOptions{})
		require.NoError(t, err)

		require.NoError(t, h.p.Logout(ctx, passport.LogoutOptions{}))
		require.Equal(t, 1, h.idp.LogoutCalls())
		_, err = h.p.GetUserInfo(ctx)
		require.True(t, passporterror.Is(err, passporterror.NotLoggedInError))
	})

	t.Run("redirect", func(t *testing.T) {
		h := newHarness(t, harnessOptions{idpOpts: []testidp.Option{testidp.WithTLS()}})
		_, err := h.p.Login(ctx, passport.LoginOptions{})
		require.NoError(t, err)

		require.NoError(t, h.p.Logout(ctx, passport.LogoutOptions{}))
		require.Equal(t, http.StatusOK, h.lastStatus())
	})
}

func TestLogoutPageRejectsUnknownState(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	_, err := h.p.Login(ctx, passport.LoginOptions{})
	require.NoError(t, err)

	// a trusted referer does not make up for a forged state
	req, err := http.NewRequest(http.MethodGet, h.app.URL+"/logout?logout_state=forged", nil)
	require.NoError(t, err)
	req.Header.Set("Referer", h.idp.URL()+"/v2/logout")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	err = h.p.LogoutCallback(ctx, h.app.URL+"/logout?logout_state=forged")
	require.True(t, passporterror.Is(err, passporterror.LogoutError))
	_, err = h.p.GetUserInfo(ctx)
	require.NoError(t, err)
}

func TestLogoutSilentCallbackClearsStoredSession(t *testing.T) {
	driver := memory.New()
	ctx := context.Background()
	first := newHarness(t, harnessOptions{driver: driver})
	_, err := first.p.Login(ctx, passport.LoginOptions{})
	require.NoError(t, err)

	// a fresh instance that has not read the stored session yet
	second := newHarness(t, harnessOptions{driver: driver})
	require.NoError(t, second.p.LogoutSilentCallback(ctx, second.idp.URL()))

	_, err = second.p.GetUserInfo(ctx)
	require.True(t, passporterror.Is(err, passporterror.NotLoggedInError))
	third := newHarness(t, harnessOptions{driver: driver})
	_, err = third.p.GetUserInfo(ctx)
	require.True(t, passporterror.Is(err, passporterror.NotLoggedInError))
}

func TestReplayedLoginCallbackWhenFlowRemovalFails(t *testing.T) {
	driver := storagefakes.NewFailingDriver()
	driver.FailOp("delete", ":flow:")
	h := newHarness(t, harnessOptions{driver: driver})
	ctx := context.Background()

	u, err := h.p.LoginWithRedirect(ctx, passport.LoginOptions{})
	require.NoError(t, err)
	client := *h.idp.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, err := client.Get(u)
	require.NoError(t, err)
	_ = resp.Body.Close()
	callback := resp.Header.Get("Location")

	require.NoError(t, h.p.LoginCallback(ctx, callback))
	err = h.p.LoginCallback(ctx, callback)
	require.True(t, passporterror.Is(err, passporterror.AuthenticationError))
	require.Equal(t, 1, h.idp.TokenCalls())

	user, err := h.p.GetUserInfo(ctx)
	require.NoError(t, err)
	require.Equal(t, "email|user-1", user.Subject)
}

func TestCallbackPage(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	resp, err := http.Get(h.app.URL + "/callback?state=unknown&code=abc")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	require.Equal(t, "SAMEORIGIN", resp.Header.Get("X-Frame-Options"))
	require.Contains(t, string(body), "Login failed")
}

func TestRefreshAfterRegistration(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	_, err := h.p.Login(ctx, passport.LoginOptions{})
	require.NoError(t, err)

	_, err = h.p.RefreshAfterRegistration(ctx)
	require.True(t, passporterror.Is(err, passporterror.UserRegistrationError))

	claims := map[string]any{
		"sub": "email|user-1",
		"passport": map[string]any{
			"zkevm_eth_address":        "0xzk",
			"zkevm_user_admin_address": "0xadmin",
		},
	}
	h.idp.UpdateUser(claims)
	user, err := h.p.RefreshAfterRegistration(ctx)
	require.NoError(t, err)
	require.True(t, user.HasZkEvmWallet())
}

func confirmingOpener(reply messaging.MessageType) *messagingfakes.Opener {
	opener := &messagingfakes.Opener{}
	opener.Configure = func(w *messagingfakes.Window) {
		w.OnPost = func(msg messaging.Message) {
			if msg.Type == messaging.ConfirmationStart {
				go w.Send("https://passport.example.com", reply, nil)
			}
		}
		// the page reports ready as soon as it loads
		go func() {
			for !w.Send("https://passport.example.com", messaging.ConfirmationWindowReady, nil) {
				if w.Closed() {
					return
				}
				time.Sleep(time.Millisecond)
			}
		}()
	}
	return opener
}

func TestConfirmTransaction(t *testing.T) {
	opener := confirmingOpener(messaging.TransactionConfirmed)
	h := newHarness(t, harnessOptions{opts: []passport.Option{
		passport.WithWindowOpener(opener),
		passport.WithConfirmationTimeout(2 * time.Second),
	}})
	ctx := context.Background()

	_, err := h.p.ConfirmTransaction(ctx, messaging.TransactionRequest{TransactionID: "tx-1"})
	require.True(t, passporterror.Is(err, passporterror.NotLoggedInError))

	h.idp.SetUser(walletUserClaims)
	_, err = h.p.Login(ctx, passport.LoginOptions{})
	require.NoError(t, err)

	res, err := h.p.ConfirmTransaction(ctx, messaging.TransactionRequest{TransactionID: "tx-1", ChainType: "evm"})
	require.NoError(t, err)
	require.True(t, res.Confirmed)

	win := opener.Last()
	require.True(t, strings.HasPrefix(win.URL, "https://passport.example.com"+messaging.PathTransactionConfirmation))
	require.Contains(t, win.URL, "etherAddress=0xzk")
}

func TestConfirmMessageWithoutWallet(t *testing.T) {
	opener := confirmingOpener(messaging.MessageConfirmed)
	h := newHarness(t, harnessOptions{opts: []passport.Option{passport.WithWindowOpener(opener)}})
	ctx := context.Background()
	_, err := h.p.Login(ctx, passport.LoginOptions{})
	require.NoError(t, err)

	_, err = h.p.ConfirmMessage(ctx, messaging.MessageRequest{MessageID: "msg-1"})
	require.True(t, passporterror.Is(err, passporterror.WalletConnectionError))
	require.ErrorIs(t, err, passport.ErrNoWalletForSignature)
	require.Empty(t, opener.Windows())

	res, err := h.p.ConfirmMessage(ctx, messaging.MessageRequest{MessageID: "msg-1", EtherAddress: "0xabc"})
	require.NoError(t, err)
	require.True(t, res.Confirmed)
}

func TestConfirmationRejectedByWindow(t *testing.T) {
	opener := confirmingOpener(messaging.TransactionError)
	h := newHarness(t, harnessOptions{opts: []passport.Option{passport.WithWindowOpener(opener)}})
	ctx := context.Background()
	h.idp.SetUser(walletUserClaims)
	_, err := h.p.Login(ctx, passport.LoginOptions{})
	require.NoError(t, err)

	_, err = h.p.ConfirmTransaction(ctx, messaging.TransactionRequest{TransactionID: "tx-1"})
	require.True(t, passporterror.Is(err, passporterror.WalletConnectionError))
	require.ErrorIs(t, err, messaging.ErrConfirmationFailed)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestLoopbackServesRedirects(t *testing.T) {
	redirectURI := "http://127.0.0.1:" + strconv.Itoa(freePort(t)) + "/callback"
	idp, err := testidp.New(testClientID, testidp.WithRedirectURIs(redirectURI))
	require.NoError(t, err)
	t.Cleanup(idp.Close)
	idp.SetUser(testUserClaims)

	p, err := passport.New(passport.Config{
		ClientID:    testClientID,
		RedirectURI: redirectURI,
		Overrides:   passport.Overrides{AuthenticationDomain: idp.URL()},
	},
		passport.WithLoopback(),
		passport.WithHTTPClient(idp.Client()),
		passport.WithLogger(zerolog.Nop()),
		passport.WithLauncher(func(u string) error {
			resp, err := idp.Client().Get(u)
			if err != nil {
				return err
			}
			return resp.Body.Close()
		}),
	)
	require.NoError(t, err)
	require.NotEmpty(t, p.LoopbackAddr())

	user, err := p.Login(context.Background(), passport.LoginOptions{})
	require.NoError(t, err)
	require.Equal(t, "email|user-1", user.Subject)

	require.NoError(t, p.Close(context.Background()))
	_, err = http.Get(redirectURI)
	require.Error(t, err)
}

func TestLoopbackRequiresLocalRedirect(t *testing.T) {
	_, err := passport.New(passport.Config{
		ClientID:    testClientID,
		RedirectURI: "https://app.example.com/callback",
	}, passport.WithLoopback(), passport.WithLogger(zerolog.Nop()))
	require.True(t, passporterror.Is(err, passporterror.InvalidConfiguration))
}
