// Package agentgw wraps the two external conversational agents behind a
// single request/reply call.
//
// The builder agent helps the business owner define the pipeline; the
// interactor agent advances leads through it. Each role is independently
// session-scoped: the first Send for a session key creates a remote
// conversation handle, later Sends reuse it.
//
// Failures surface as *RemoteError with a Kind of timeout, rate_limited, or
// remote_error. The gateway performs no automatic retries — retrying a rate
// limit only amplifies it — so callers pick their own policy. No state is
// committed until a full valid reply returns, which makes abandoning an
// in-flight call (client disconnect) side-effect free.
package agentgw
