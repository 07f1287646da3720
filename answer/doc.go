// Package answer turns ranked references into an assistant reply.
//
// When retrieval produced no references the Generator returns a fixed
// not-found answer without calling the completion model. Otherwise it sends
// one system instruction and one user turn carrying prior exchanges, the
// numbered excerpts and the question, and asks the model to cite pages as
// [p. N]. The formatted reply appends a Sources line listing the cited pages.
package answer
