// ABOUTME: Network broadcast sink package
// ABOUTME: Streams the engine's output to remote listeners over WebSocket
// Package broadcast plays the engine's audio to listeners on the network.
//
// A Server is an output.Output: plug it into a transport like any device
// output. Audio it receives is clocked out in real time, encoded per
// listener (opus or pcm) and sent as timestamped binary chunks ahead of
// their playback time.
//
// Example:
//
//	srv := broadcast.NewServer(broadcast.Config{Name: "Living Room"})
//	engine, _ := resonate.NewEngine(resonate.Config{Output: srv.Output()})
//	go srv.Run(ctx)
package broadcast
