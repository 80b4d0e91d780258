// Package slack connects the generic [Socket Mode client] to Slack: it generates
// WebSocket URLs with [apps.connections.open], and decodes envelope payloads into
// [Events API] events, [slash commands], and [interaction payloads].
//
// [Socket Mode client]: https://pkg.go.dev/github.com/tzrikka/slackwire/pkg/socketmode
// [apps.connections.open]: https://docs.slack.dev/reference/methods/apps.connections.open
// [Events API]: https://docs.slack.dev/apis/events-api
// [slash commands]: https://docs.slack.dev/interactivity/implementing-slash-commands
// [interaction payloads]: https://docs.slack.dev/interactivity/handling-user-interaction
package slack
