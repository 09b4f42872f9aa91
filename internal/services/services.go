// Package services holds the clients that talk to the outside world: the Ollama daemon, the public
// model library page, the listing cache, and the daemon's files on local disk.
package services

const errLoggerKey = "err"
