// Package game implements the coordinator for a serverless turn-based
// symbol game: N peers agree on every board mutation before any copy of
// the board changes.
//
// # Phases
//
// A node starts in the lobby. The first peer to connect while no host is
// known makes the accepting node the host; a node that joins another
// lobby adopts the dialed peer as host and gives up hosting. The host
// validates symbol choices, assigns player ids, fixes the turn order and
// broadcasts the StartGame roster, moving everyone into the game phase.
// A committed move that completes a line, or fills the board, moves the
// game to its terminal end phase.
//
// # Move agreement
//
// Only the player whose id matches the current turn may propose. The
// proposal is broadcast, every peer independently re-validates it against
// its own board and answers with a verdict plus a speculative win/tie
// evaluation. Only if every verdict is positive does the proposer apply
// the move and broadcast the commit, which is the single path by which
// the other boards change. Missing answers are retried a bounded number
// of times, then the move is abandoned with no partial commit.
//
// # Concurrency
//
// Connection handlers run on the receive goroutine of their connection,
// front-end commands on the caller's goroutine. All coordinator state
// lives behind one mutex; the proposer's wait for validations happens
// outside it so receive loops keep draining.
package game
