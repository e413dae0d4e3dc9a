package ports

type SchedulerService interface {
	Start()
	Stop()

	ScheduleTaskEvery(seconds int, task func()) error
	ScheduleTaskOnce(at int64, task func()) error
}
