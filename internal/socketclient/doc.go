// Package socketclient provides a client library for connecting to a running
// diffbridge server.
//
// A Client plays one peer of the bridge: it dials the WebSocket endpoint,
// identifies as editor or assistant and then exchanges relay messages. By
// default it answers the server's liveness pings so the connection is not
// evicted.
//
// Basic Usage
//
//	client, err := socketclient.NewClient(socketclient.URLForPort("127.0.0.1", port), "claude")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx := context.Background()
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Send(map[string]any{
//	    "type":             "diff_request",
//	    "id":               "r1",
//	    "file_path":        "main.go",
//	    "original_content": before,
//	    "modified_content": after,
//	})
//
//	result, err := client.Expect(ctx, "diff_result")
//
// Error envelopes sent by the server surface as *SocketError from Expect and
// Identify, carrying the server's code (for example VIM_NOT_CONNECTED).
//
// FetchStatus reads the diagnostics endpoint without opening a WebSocket.
package socketclient
