/*
Package client is the typed HTTP client for the controller API.

Everything that talks to a controller uses this package: the runner
agent, the admin CLI, and the test harness. One Client type serves all
three callers; the constructor decides which credentials ride along.

# Constructors

	client.NewRunner(url, apiKey, mac, machineID, insecureTLS)
	client.NewEnrollment(url, token, mac, machineID, insecureTLS)
	client.NewAdmin(url, sessionToken, csrfToken, insecureTLS)

Runner and enrollment clients send the bearer plus the host identifier
headers the resolver matches on. Admin clients authenticate with the
session cookie and attach the CSRF token to mutating requests.

# Error Mapping

Non-2xx responses come back as *APIError carrying the status code and
the server's error string. APIError unwraps to the matching sentinel
(types.ErrAuth, ErrForbidden, ErrNotFound, ErrConflict), so callers
branch with errors.Is instead of comparing status codes. An empty work
queue is types.ErrNoWork, not an error-shaped HTTP response. Retryable
reports whether an error is worth another attempt: server errors and
transport failures are, 4xx responses never are.

# Usage

	c := client.NewRunner(cfg.ControllerURL, key, mac, machineID, false)
	task, err := c.PollTask(runnerID)
	if errors.Is(err, types.ErrNoWork) {
		// idle, poll again later
	}

File uploads stream multipart bodies; DownloadFile hands back the body
reader and leaves digest verification to the caller, which is the
runner cache's job anyway.
*/
package client
