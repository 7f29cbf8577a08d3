// Command radtrack is the workflow progress tracker for the report
// pipeline. It follows a workflow over the backend's push channel, falls
// back to status polling when the connection drops, and requests recovery
// when progress stalls.
package main
