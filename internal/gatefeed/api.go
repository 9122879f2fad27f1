package gatefeed

// Pass is one turnstile pass reported by the gate controller.
type Pass struct {
	ID         int64  `json:"id"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	StudentID  string `json:"studentId"`
	PassTime   string `json:"passTime"`
}

// apiResponse models the top-level structure of the gate controller's response.
type apiResponse struct {
	Code int `json:"code"`
	Data struct {
		Page     int    `json:"page"`
		PageSize int    `json:"pageSize"`
		Total    int    `json:"total"`
		Items    []Pass `json:"items"`
	} `json:"data"`
}
