package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/botscript-go/botscript/scripthost"
)

// loginRetryDelay brackets each retry so a bad login doesn't hammer the
// remote service back-to-back (§5: "Login retries suspend ... on the
// timer").
const loginRetryDelay = 2 * time.Second

// loginRetry drives the three-attempt login protocol (§4.1): a script
// error or a literal false result both count as a failed attempt: rotate
// the proxy, log the next attempt number, and retry after a short delay.
// Exhausting tries surfaces the last error, or a fixed "wrong login data"
// message if every attempt merely returned false.
func (a *Agent) loginRetry(ctx context.Context, triesLeft int, done func(err error)) {
	ok, err := a.interp.Login(ctx, a.cfg.Username(), a.cfg.Password())
	if err != nil {
		a.Log(scripthost.LogInfo, "base", "login failed: "+err.Error())
		a.retryOrFail(ctx, triesLeft, err, done)
		return
	}
	if !ok {
		a.retryOrFail(ctx, triesLeft, fmt.Errorf("Login -> not logged in (wrong login data?)"), done)
		return
	}
	done(nil)
}

func (a *Agent) retryOrFail(ctx context.Context, triesLeft int, lastErr error, done func(err error)) {
	if triesLeft == 0 {
		done(lastErr)
		return
	}

	a.session.ChangeProxy()
	attemptNumber := 4 - triesLeft
	a.Log(scripthost.LogInfo, "base", fmt.Sprintf("login: %d. try", attemptNumber))

	a.exec.After(loginRetryDelay, func() {
		a.loginRetry(ctx, triesLeft-1, done)
	})
}
