// Package crawler holds the shared vocabulary of the document crawler: the
// frontier, task and result types exchanged between pipeline stages, the
// failure taxonomy, URL normalization, link classification, and the retry
// policy used by every component that talks to the network.
package crawler
