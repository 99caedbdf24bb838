// Package storage provides the optional persistence layer used by the poller.
//
// It keeps:
//   - Poller state (poll cursor + last delivered text) so a restart resumes
//     from where it left off instead of "now"
//   - A delivery journal (every message that reached the chat)
//
// With the default driver ("none") nothing is persisted.
package storage
