// Package scenarios runs the EJB timer scenarios against a real topology.
//
// The tests need Docker and are compiled only with the e2e build tag:
//
//	TIMERHARNESS_E2E=1 TIMERHARNESS_SERVER_IMAGE_NAME=<image> \
//	TIMERHARNESS_SERVER_START_SCRIPT=<script> go test -tags e2e ./tests/e2e/...
//
// One topology is started in TestMain and shared by every test. Each test
// provisions the deployment, drives one process and disposes it again:
//   - timers_test.go: one test per timer scenario
//   - partitions_test.go: per-node partition names in the timer table
package scenarios
