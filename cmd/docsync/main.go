// Command docsync keeps a vector-searchable mirror of a GitHub repository's
// documentation in sync. It runs one-shot syncs from the shell or serves the
// same operations as MCP tools over stdio.
package main

func main() {
	Execute()
}
