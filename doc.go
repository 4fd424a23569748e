/*
Package dealer is the client-side routing and dispatch core of a
messaging/RPC layer for a cluster of long-lived application hosts.

Hosts announce themselves over a pub/sub bus (see package overseer);
applications ("services") are reached by logical name and expose one
or more "handles" (methods), each backed by a dynamic, discovered set
of endpoints. A handle owns a load-balanced DEALER-flavored socket
(package balancer) fed by a single-threaded event loop (package
handle) that matches streamed responses to outstanding requests and
drives retry/deadline state machines against a message cache (package
cache).

This package holds the data model shared by all of the above:
endpoints, handle identities, messages, policies and response chunks.
It does not itself open sockets or run goroutines.
*/
package dealer
