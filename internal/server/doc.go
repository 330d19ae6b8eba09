// Package server implements the chatroom relay and its HTTP surface.
//
// Each WebSocket connection gets a Client with read and write pumps. All
// connection events flow into the Hub loop, which owns login, chat relay,
// presence notices and history snapshots. Identity verification, history I/O
// and transcript appends run off the loop and never block it.
package server
