/*
Package gpu observes devices and selects them for tasks.

The Probe interface hides the vendor query behind three operations:
device listing, consistent per-device snapshots, and attribution of
python compute processes to users. The shipped backend shells out to
nvidia-smi in CSV mode. The Selector averages utilization-based scores
over a 3 second window to pick the least loaded eligible device.
*/
package gpu
