package benchmark

import "time"

// PerformanceMetrics captures detailed performance data of one scenario run.
type PerformanceMetrics struct {
	Scenario        Scenario      `json:"scenario"`
	Timestamp       time.Time     `json:"timestamp"`
	TotalDuration   time.Duration `json:"total_duration"`
	FramesPerSecond float64       `json:"frames_per_second"`
	// FinalLoss is the mean final batch loss across the timed iterations.
	FinalLoss   float64       `json:"final_loss"`
	ErrorRate   float64       `json:"error_rate"`
	MemoryStats MemoryMetrics `json:"memory_stats"`
	CPUStats    CPUMetrics    `json:"cpu_stats"`
}

// MemoryMetrics captures memory usage statistics.
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes    uint64 `json:"heap_sys_bytes"`
}

// CPUMetrics captures CPU usage statistics.
type CPUMetrics struct {
	NumCPU int `json:"num_cpu"`
}
